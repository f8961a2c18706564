package protocol

// AgentStatus is a simulated colleague's availability.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentAway    AgentStatus = "away"
	AgentOffline AgentStatus = "offline"
)

// Agent is a simulated colleague. Each session works on its own copy of the
// base roster; only Status and ticket assignments change at runtime.
type Agent struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Skill    float64     `json:"skill"`
	Trust    float64     `json:"trust"` // probability of accepting a delegated ticket, in [0,1]
	Greeting string      `json:"greeting,omitempty"`
	Status   AgentStatus `json:"status"`
}
