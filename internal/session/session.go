// Package session holds per-participant simulation state and the
// process-wide registry that owns it. A session's tickets and agents are
// touched only under its own lock; no session ever sees another's state.
package session

import (
	"sync"
	"time"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Session is one participant's isolated simulation state.
type Session struct {
	// Mu guards every mutable field below. The engine holds it across a
	// mutation and the broadcast of that mutation, which is what keeps
	// events in mutation order.
	Mu sync.Mutex

	ParticipantID string
	Parity        protocol.Parity
	Stage         protocol.Stage
	AIMode        protocol.AIMode

	Tickets []*protocol.Ticket
	Agents  []protocol.Agent

	StageStart    time.Time
	StageDuration time.Duration

	// LastCriticalSpawn implements the critical-ticket cooldown.
	LastCriticalSpawn time.Time

	Timers *TimerSet

	conns  map[string]struct{}
	active bool
}

func newSession(participantID string, parity protocol.Parity) *Session {
	return &Session{
		ParticipantID: participantID,
		Parity:        parity,
		Stage:         protocol.StageTutorial,
		AIMode:        protocol.AIModeNormal,
		Agents:        BaseRoster(),
		Timers:        NewTimerSet(),
		conns:         make(map[string]struct{}),
	}
}

// ActiveLocked reports whether at least one connection is bound. Callers
// must hold Mu.
func (s *Session) ActiveLocked() bool { return s.active }

// Active reports whether at least one connection is bound.
func (s *Session) Active() bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.active
}

// ConnCount returns the number of bound connections.
func (s *Session) ConnCount() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return len(s.conns)
}

// Ticket finds a ticket by ID. Callers must hold Mu.
func (s *Session) Ticket(id string) (*protocol.Ticket, bool) {
	for _, t := range s.Tickets {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Agent finds a roster agent by ID. Callers must hold Mu.
func (s *Session) Agent(id string) (*protocol.Agent, bool) {
	for i := range s.Agents {
		if s.Agents[i].ID == id {
			return &s.Agents[i], true
		}
	}
	return nil, false
}

// Elapsed returns time passed since stage start. Callers must hold Mu.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StageStart.IsZero() {
		return 0
	}
	return now.Sub(s.StageStart)
}

// Remaining returns shift time left, floored at zero. Callers must hold Mu.
func (s *Session) Remaining(now time.Time) time.Duration {
	left := s.StageDuration - s.Elapsed(now)
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) addConn(connID string) {
	s.Mu.Lock()
	s.conns[connID] = struct{}{}
	s.active = true
	s.Mu.Unlock()
}

// removeConn drops a connection and reports how many remain. When the last
// one goes, the session is deactivated and its timers stop; the state
// itself is retained so a reconnect picks up where it left off.
func (s *Session) removeConn(connID string) int {
	s.Mu.Lock()
	delete(s.conns, connID)
	left := len(s.conns)
	if left == 0 {
		s.active = false
	}
	s.Mu.Unlock()
	if left == 0 {
		s.Timers.StopAll()
	}
	return left
}

func (s *Session) deactivate() {
	s.Mu.Lock()
	s.active = false
	s.conns = make(map[string]struct{})
	s.Mu.Unlock()
	s.Timers.StopAll()
}
