// Package ws is the websocket transport: one hub of per-participant rooms,
// one goroutine pair per connection. The hub implements the engine's
// broadcaster; events are serialized synchronously under the engine's
// session lock so each room sees them in mutation order.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// sendQueueSize bounds a connection's outbound queue. A connection that
// cannot drain its queue loses events rather than stalling the session.
const sendQueueSize = 64

// Hub fans events out to the connections of each participant's room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*conn
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[string]*conn),
		logger: logger,
	}
}

// Broadcast serializes the event once and queues it on every connection in
// the participant's room. Serialization happens here, synchronously, so
// the payload is captured before the caller mutates it further.
func (h *Hub) Broadcast(participantID string, ev protocol.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("event marshal failed", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[participantID] {
		c.enqueue(raw)
	}
}

// join adds a connection to a participant's room.
func (h *Hub) join(participantID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[participantID]
	if !ok {
		room = make(map[string]*conn)
		h.rooms[participantID] = room
	}
	room[c.id] = c
}

// leave removes a connection from its room, dropping the room when empty.
func (h *Hub) leave(participantID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[participantID]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.rooms, participantID)
		}
	}
}

// CloseRoom drops a participant's room and closes every connection in it.
// The engine calls this on participant reset; clients reconnect and re-init
// against the fresh session.
func (h *Hub) CloseRoom(participantID string) {
	h.mu.Lock()
	room := h.rooms[participantID]
	delete(h.rooms, participantID)
	h.mu.Unlock()
	for _, c := range room {
		c.close()
	}
}

// RoomSize returns the number of connections in a participant's room.
func (h *Hub) RoomSize(participantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[participantID])
}
