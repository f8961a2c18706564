package protocol

// EventType names an outbound event pushed to a session's connections.
type EventType string

const (
	EventInit            EventType = "init"
	EventTicketNew       EventType = "ticket:new"
	EventTicketsUpdate   EventType = "tickets:update"
	EventAgentsUpdate    EventType = "agents:update"
	EventTimerUpdate     EventType = "shift:timer:update"
	EventShiftTimeout    EventType = "shift:timeout"
	EventAIModeChanged   EventType = "ai:mode_changed"
	EventNotification    EventType = "client:notification"
	EventAIAction        EventType = "ai:autonomous_action"
	EventAINotification  EventType = "ai:notification"
	EventBotNotification EventType = "bot:notification"
	EventAIResponse      EventType = "ai:response"
)

// Event is the envelope for everything the engine pushes to connections.
// Events from one session are delivered in the order their causing state
// mutation occurred.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// NotificationType classifies a user-visible notification.
type NotificationType string

const (
	NotifyInfo     NotificationType = "info"
	NotifyWarning  NotificationType = "warning"
	NotifyError    NotificationType = "error"
	NotifySuccess  NotificationType = "success"
	NotifyCritical NotificationType = "critical"
)

// Notification is a typed, user-visible notice. Every rejected or failed
// action yields one, distinguishable from a success.
type Notification struct {
	Type    NotificationType `json:"type"`
	Message string           `json:"message"`
}

// TimerUpdate carries the remaining shift time in whole seconds.
type TimerUpdate struct {
	TimeLeft int `json:"time_left"`
}

// Autonomous AI action kinds.
const (
	AIActionMissed = "missed"
	AIActionTaken  = "taken"
	AIActionFailed = "failed"
	AIActionSolved = "solved"
)

// AIAction reports an autonomous AI outcome on a ticket.
type AIAction struct {
	Kind     string `json:"kind"`
	TicketID string `json:"ticket_id"`
	Message  string `json:"message"`
}

// AIAdvice is the reply to an ask-AI lookup. KBID may be empty when no
// article matched.
type AIAdvice struct {
	TicketID string `json:"ticket_id"`
	Text     string `json:"text"`
	KBID     string `json:"kb_id,omitempty"`
}

// BotNotification is a delegation outcome notice attributed to a colleague.
type BotNotification struct {
	BotName string           `json:"bot_name"`
	Message string           `json:"message"`
	Type    NotificationType `json:"type"`
}

// AIModeChange announces the session's new AI mode.
type AIModeChange struct {
	AIMode AIMode `json:"ai_mode"`
}
