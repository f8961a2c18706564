package protocol

import "time"

// TicketStatus represents the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketNotAssigned TicketStatus = "not_assigned"
	TicketInProgress  TicketStatus = "in_progress"
	TicketSolved      TicketStatus = "solved"
)

// Severity classifies how urgent a ticket is.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityCritical Severity = "critical"
)

// Well-known assignee values. Any other non-empty assignee is the ID of a
// simulated colleague from the session roster.
const (
	AssigneeNone        = ""
	AssigneeParticipant = "participant"
	AssigneeAI          = "ai"
)

// Message senders.
const (
	SenderClient = "client"
	SenderAgent  = "agent"
	SenderSystem = "system"
	SenderAI     = "ai"
)

// Message is one timestamped entry in a ticket's conversation thread.
// The thread is append-only.
type Message struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Ticket is one support request and its evolving state.
type Ticket struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Severity       Severity     `json:"severity"`
	Status         TicketStatus `json:"status"`
	Assignee       string       `json:"assignee"`
	CreatedAt      time.Time    `json:"created_at"`
	DeadlineAssign *time.Time   `json:"deadline_assign,omitempty"`
	DeadlineSolve  *time.Time   `json:"deadline_solve,omitempty"`
	Messages       []Message    `json:"messages"`
	Solution       string       `json:"solution,omitempty"`
	LinkedKBID     string       `json:"linked_kb_id,omitempty"`
	SolutionAuthor string       `json:"solution_author,omitempty"`
	Critical       bool         `json:"is_critical"`
	Tutorial       bool         `json:"is_tutorial"`

	// One-shot flags so a blown deadline is reported exactly once.
	AssignOverdueReported bool `json:"assign_overdue_reported"`
	SolveOverdueReported  bool `json:"solve_overdue_reported"`
}

// Append adds a message to the ticket's thread.
func (t *Ticket) Append(from, text string, at time.Time) {
	t.Messages = append(t.Messages, Message{From: from, Text: text, Timestamp: at})
}
