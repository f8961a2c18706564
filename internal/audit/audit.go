// Package audit records participant actions and simulation outcomes.
// Writes are best-effort: a failed or slow write never blocks or fails the
// state transition that produced it.
package audit

import "time"

// Entry is one audit record.
type Entry struct {
	Time          time.Time      `json:"time"`
	ParticipantID string         `json:"participant_id"`
	Stage         int            `json:"stage"`
	Action        string         `json:"action"`
	TicketID      string         `json:"ticket_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Logger accepts audit entries. Implementations must not block the caller.
type Logger interface {
	Log(e Entry)
}

// Nop discards all entries.
type Nop struct{}

func (Nop) Log(Entry) {}
