package session

import (
	"log/slog"
	"sync"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Registry owns every live session and the connection-to-participant
// index. Two maps, one lock: sessions by participant ID, and connection
// IDs back to the participant they are bound to.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	conns    map[string]string
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		conns:    make(map[string]string),
		logger:   logger,
	}
}

// GetOrCreate returns the participant's session, creating it on first
// sight. An existing session keeps its state and parity; the passed
// parity only seeds a new one.
func (r *Registry) GetOrCreate(participantID string, parity protocol.Parity) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[participantID]; ok {
		return s
	}
	s := newSession(participantID, parity)
	r.sessions[participantID] = s
	r.logger.Info("session created", "participant", participantID, "parity", parity)
	return s
}

// Get returns the session for a participant, if one exists.
func (r *Registry) Get(participantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[participantID]
	return s, ok
}

// Bind attaches a connection to a participant's session. The session must
// already exist.
func (r *Registry) Bind(connID, participantID string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[participantID]
	if ok {
		// A connection rebinding to a new participant leaves its old
		// session first.
		if prev, bound := r.conns[connID]; bound && prev != participantID {
			if old, exists := r.sessions[prev]; exists {
				old.removeConn(connID)
			}
		}
		r.conns[connID] = participantID
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.addConn(connID)
	return s, true
}

// Unbind detaches a connection. The last connection leaving a session
// deactivates it and stops its timers.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	participantID, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	s := r.sessions[participantID]
	r.mu.Unlock()

	if !ok || s == nil {
		return
	}
	if left := s.removeConn(connID); left == 0 {
		r.logger.Info("session idle, timers stopped", "participant", participantID)
	}
}

// ByConn resolves a connection ID to its bound session.
func (r *Registry) ByConn(connID string) (*Session, bool) {
	r.mu.RLock()
	participantID, ok := r.conns[connID]
	s := r.sessions[participantID]
	r.mu.RUnlock()
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}

// Reset tears a participant's session down entirely: timers stopped,
// connections forgotten, state dropped. A later GetOrCreate starts fresh.
func (r *Registry) Reset(participantID string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[participantID]
	if ok {
		delete(r.sessions, participantID)
		for connID, pid := range r.conns {
			if pid == participantID {
				delete(r.conns, connID)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	s.deactivate()
	r.logger.Info("session reset", "participant", participantID)
	return s, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveCount returns how many sessions have at least one connection.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	n := 0
	for _, s := range sessions {
		if s.Active() {
			n++
		}
	}
	return n
}
