package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Engine is the slice of the simulation engine the transport drives.
type Engine interface {
	Join(connID, participantID string, parity protocol.Parity) (protocol.Snapshot, error)
	Leave(connID string)
	SetTicketStatus(participantID, ticketID string, status protocol.TicketStatus) error
	SolveTicket(participantID, ticketID, solution, kbID string) error
	AskAI(participantID, ticketID string) (protocol.AIAdvice, error)
	Delegate(participantID, ticketID, agentID string) error
	CompleteTutorial(participantID string) error
}

// ParityLookup resolves a participant ID to its experimental track. The
// participant must have been registered over the REST API first.
type ParityLookup func(participantID string) (protocol.Parity, error)

// Handler upgrades HTTP requests to websocket sessions.
type Handler struct {
	hub      *Hub
	engine   Engine
	lookup   ParityLookup
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler builds the websocket endpoint. An empty origins list allows
// same-origin requests only.
func NewHandler(hub *Hub, engine Engine, lookup ParityLookup, origins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		hub:    hub,
		engine: engine,
		lookup: lookup,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(origins) > 0 {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
	return h
}

// conn is one websocket connection and its outbound queue.
type conn struct {
	id            string
	participantID string
	sock          *websocket.Conn
	out           chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	logger        *slog.Logger
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

// enqueue queues one serialized event. A full queue drops the event; a
// reconnecting client recovers state from the init snapshot.
func (c *conn) enqueue(msg []byte) {
	select {
	case <-c.done:
	case c.out <- msg:
	default:
		c.logger.Warn("send queue full, event dropped", "conn", c.id)
	}
}

func (c *conn) send(ev protocol.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("event marshal failed", "type", ev.Type, "error", err)
		return
	}
	c.enqueue(raw)
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		}
	}
}

// envelope is the inbound message frame.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound message types.
const (
	msgInit              = "request:init"
	msgTicketStatus      = "ticket:status:update"
	msgTicketSolve       = "ticket:solve"
	msgAskAI             = "ai:ask"
	msgDelegate          = "bot:delegate"
	msgTutorialCompleted = "tutorial:completed"
)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		sock:   sock,
		out:    make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: h.logger,
	}
	go c.writeLoop()
	h.logger.Info("websocket connected", "conn", c.id, "remote", r.RemoteAddr)

	defer func() {
		c.close()
		if c.participantID != "" {
			h.hub.leave(c.participantID, c)
			h.engine.Leave(c.id)
		}
		h.logger.Info("websocket disconnected", "conn", c.id)
	}()

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.logger.Warn("bad message frame", "conn", c.id, "error", err)
			continue
		}
		h.dispatch(c, env)
	}
}

func (h *Handler) dispatch(c *conn, env envelope) {
	if env.Type == msgInit {
		h.handleInit(c, env.Payload)
		return
	}
	if c.participantID == "" {
		h.logger.Warn("message before init", "conn", c.id, "type", env.Type)
		return
	}

	switch env.Type {
	case msgTicketStatus:
		var p struct {
			TicketID string                `json:"ticket_id"`
			Status   protocol.TicketStatus `json:"status"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if err := h.engine.SetTicketStatus(c.participantID, p.TicketID, p.Status); err != nil {
			h.logger.Debug("status update rejected", "conn", c.id, "error", err)
		}

	case msgTicketSolve:
		var p struct {
			TicketID string `json:"ticket_id"`
			Solution string `json:"solution"`
			KBID     string `json:"kb_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if err := h.engine.SolveTicket(c.participantID, p.TicketID, p.Solution, p.KBID); err != nil {
			h.logger.Debug("solve rejected", "conn", c.id, "error", err)
		}

	case msgAskAI:
		var p struct {
			TicketID string `json:"ticket_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		advice, err := h.engine.AskAI(c.participantID, p.TicketID)
		if err != nil {
			h.logger.Debug("ai ask rejected", "conn", c.id, "error", err)
			return
		}
		// Advice goes only to the asking connection.
		c.send(protocol.Event{Type: protocol.EventAIResponse, Payload: advice})

	case msgDelegate:
		var p struct {
			TicketID string `json:"ticket_id"`
			AgentID  string `json:"agent_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if err := h.engine.Delegate(c.participantID, p.TicketID, p.AgentID); err != nil {
			h.logger.Debug("delegation rejected", "conn", c.id, "error", err)
		}

	case msgTutorialCompleted:
		if err := h.engine.CompleteTutorial(c.participantID); err != nil {
			h.logger.Debug("tutorial completion rejected", "conn", c.id, "error", err)
		}

	default:
		h.logger.Warn("unknown message type", "conn", c.id, "type", env.Type)
	}
}

func (h *Handler) handleInit(c *conn, payload json.RawMessage) {
	var p struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.ParticipantID == "" {
		h.logger.Warn("bad init payload", "conn", c.id)
		return
	}

	parity, err := h.lookup(p.ParticipantID)
	if err != nil {
		h.logger.Warn("init for unknown participant", "conn", c.id, "participant", p.ParticipantID, "error", err)
		c.send(protocol.Event{
			Type:    protocol.EventNotification,
			Payload: protocol.Notification{Type: protocol.NotifyError, Message: "Unknown participant. Register first."},
		})
		return
	}

	// A connection switching participants leaves its old room.
	if c.participantID != "" && c.participantID != p.ParticipantID {
		h.hub.leave(c.participantID, c)
		h.engine.Leave(c.id)
	}

	snap, err := h.engine.Join(c.id, p.ParticipantID, parity)
	if err != nil {
		h.logger.Error("join failed", "conn", c.id, "participant", p.ParticipantID, "error", err)
		return
	}
	c.participantID = p.ParticipantID
	h.hub.join(p.ParticipantID, c)
	c.send(protocol.Event{Type: protocol.EventInit, Payload: snap})
	h.logger.Info("session bound", "conn", c.id, "participant", p.ParticipantID, "parity", parity)
}
