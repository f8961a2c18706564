package protocol

// Parity is the participant's experimental track, fixed at registration.
// Even-parity participants work with the AI assistant, odd-parity
// participants delegate to simulated colleagues.
type Parity string

const (
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// AITrack reports whether this parity is the AI-assistance track.
func (p Parity) AITrack() bool { return p == ParityEven }

// ColleagueTrack reports whether this parity is the delegation track.
func (p Parity) ColleagueTrack() bool { return p == ParityOdd }

// Stage is the experiment phase.
type Stage int

const (
	StageTutorial Stage = 1
	StageShift    Stage = 2
)

// AIMode controls whether the AI assistant acts on its own.
type AIMode string

const (
	AIModeNormal     AIMode = "normal"
	AIModeAutonomous AIMode = "autonomous"
)

// KBArticle is one knowledge-base entry, immutable after load.
type KBArticle struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Snapshot is the full session state sent on init and stage start.
type Snapshot struct {
	Tickets    []*Ticket   `json:"tickets"`
	KBArticles []KBArticle `json:"kb_articles"`
	Agents     []Agent     `json:"agents"`
	Stage      Stage       `json:"current_stage"`
	AIMode     AIMode      `json:"ai_mode"`
	Parity     Parity      `json:"participant_parity"`
}
