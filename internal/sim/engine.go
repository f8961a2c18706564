// Package sim is the simulation engine: ticket lifecycle, per-session
// timers, and the three competing resolvers (participant, autonomous AI,
// delegated colleagues). All state lives in session aggregates; the engine
// mutates a session and broadcasts the result while holding its lock, so
// connections observe events in mutation order.
package sim

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/astarch-code/shiftdesk/internal/audit"
	"github.com/astarch-code/shiftdesk/internal/catalog"
	"github.com/astarch-code/shiftdesk/internal/session"
	"github.com/astarch-code/shiftdesk/internal/tuning"
	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Broadcaster delivers an event to every connection bound to a
// participant's session. Broadcast is called with the session lock held
// and must not block; implementations serialize the event synchronously
// and queue the bytes.
type Broadcaster interface {
	Broadcast(participantID string, ev protocol.Event)
}

// RoomCloser is implemented by broadcasters that can drop a participant's
// connections. The engine uses it on reset so stale connections re-init
// instead of listening on a dead session.
type RoomCloser interface {
	CloseRoom(participantID string)
}

// Notifier posts out-of-band notices to the researcher channel.
type Notifier interface {
	Post(text string)
}

// Engine drives every session's simulation.
type Engine struct {
	reg      *session.Registry
	cat      *catalog.Catalog
	tun      tuning.Tuning
	bc       Broadcaster
	audit    audit.Logger
	archiver *audit.Archiver
	notifier Notifier
	rng      Rand
	now      func() time.Time
	logger   *slog.Logger
}

// Options carries the engine's collaborators. Audit, Archiver, Notifier,
// Rand and Now are optional.
type Options struct {
	Registry  *session.Registry
	Catalog   *catalog.Catalog
	Tuning    tuning.Tuning
	Broadcast Broadcaster
	Audit     audit.Logger
	Archiver  *audit.Archiver
	Notifier  Notifier
	Rand      Rand
	Now       func() time.Time
	Logger    *slog.Logger
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		reg:      opts.Registry,
		cat:      opts.Catalog,
		tun:      opts.Tuning,
		bc:       opts.Broadcast,
		audit:    opts.Audit,
		archiver: opts.Archiver,
		notifier: opts.Notifier,
		rng:      opts.Rand,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.rng == nil {
		e.rng = NewRand()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Join binds a connection to the participant's session, creating the
// session on first contact, and returns the init snapshot. A tutorial
// session with no tickets gets its tutorial tickets scheduled; a shift
// session whose timers were stopped by a disconnect gets them restarted.
func (e *Engine) Join(connID, participantID string, parity protocol.Parity) (protocol.Snapshot, error) {
	sess := e.reg.GetOrCreate(participantID, parity)
	if _, ok := e.reg.Bind(connID, participantID); !ok {
		return protocol.Snapshot{}, fmt.Errorf("sim: join %s: session vanished", participantID)
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	switch sess.Stage {
	case protocol.StageTutorial:
		if len(sess.Tickets) == 0 {
			e.scheduleTutorialSpawn(sess)
		}
	case protocol.StageShift:
		if !sess.StageStart.IsZero() {
			e.startShiftTimers(sess)
		}
	}

	e.auditLog(sess, "session_joined", "", map[string]any{"conn": connID})
	return e.snapshotLocked(sess), nil
}

// Leave unbinds a connection. The registry stops the session's timers
// when its last connection goes.
func (e *Engine) Leave(connID string) {
	e.reg.Unbind(connID)
}

// Session resolves a connection to its bound session.
func (e *Engine) Session(connID string) (*session.Session, bool) {
	return e.reg.ByConn(connID)
}

// Snapshot returns the participant's full state for the init event.
func (e *Engine) Snapshot(participantID string) (protocol.Snapshot, bool) {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return protocol.Snapshot{}, false
	}
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	return e.snapshotLocked(sess), true
}

func (e *Engine) snapshotLocked(sess *session.Session) protocol.Snapshot {
	return protocol.Snapshot{
		Tickets:    sess.Tickets,
		KBArticles: e.cat.Articles,
		Agents:     sess.Agents,
		Stage:      sess.Stage,
		AIMode:     sess.AIMode,
		Parity:     sess.Parity,
	}
}

// StartStage moves a participant's session into the given stage and
// arranges its timers. Starting the current stage again is a no-op for
// state but re-arms any stopped timers.
func (e *Engine) StartStage(participantID string, stage protocol.Stage) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: start stage: unknown participant %s", participantID)
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	switch stage {
	case protocol.StageTutorial:
		sess.Stage = protocol.StageTutorial
		sess.Timers.Stop(session.TimerStage)
		sess.Timers.Stop(session.TimerSpawner)
		sess.Timers.Stop(session.TimerRoster)
		for i := range sess.Agents {
			sess.Agents[i].Status = protocol.AgentOffline
		}
		if len(sess.Tickets) == 0 {
			e.scheduleTutorialSpawn(sess)
		}
		e.startSweep(sess)

	case protocol.StageShift:
		e.beginShiftLocked(sess)

	default:
		return fmt.Errorf("sim: start stage: unknown stage %d", stage)
	}

	e.broadcast(sess, protocol.Event{Type: protocol.EventInit, Payload: e.snapshotLocked(sess)})
	e.auditLog(sess, "stage_started", "", map[string]any{"stage": int(stage)})
	e.logger.Info("stage started", "participant", participantID, "stage", int(stage))
	if stage == protocol.StageShift {
		e.postResearcher(fmt.Sprintf("participant %s started the shift (%s track)", participantID, sess.Parity))
	}
	return nil
}

// beginShiftLocked does the stage-2 setup: roster draw, shift clock, and
// timers. Callers hold the session lock.
func (e *Engine) beginShiftLocked(sess *session.Session) {
	sess.Stage = protocol.StageShift
	e.drawRoster(sess)

	if sess.StageStart.IsZero() {
		sess.StageStart = e.now()
		sess.StageDuration = e.tun.ShiftDuration()
	}
	e.startShiftTimers(sess)
}

// drawRoster sets colleague availability for the shift. The delegation
// track gets a random one-to-all subset online; the AI track works alone.
func (e *Engine) drawRoster(sess *session.Session) {
	if !sess.Parity.ColleagueTrack() {
		for i := range sess.Agents {
			sess.Agents[i].Status = protocol.AgentOffline
		}
		return
	}
	online := 1 + e.rng.Intn(len(sess.Agents))
	for i := range sess.Agents {
		if i < online {
			sess.Agents[i].Status = protocol.AgentOnline
		} else {
			sess.Agents[i].Status = protocol.AgentOffline
		}
	}
}

// startShiftTimers arms the stage-2 timer set. Duplicate starts are
// absorbed by the timer set, so reconnects are safe.
func (e *Engine) startShiftTimers(sess *session.Session) {
	e.startSweep(sess)
	sess.Timers.Start(session.TimerStage, e.tun.StageTick(), func() { e.stageTick(sess) })
	sess.Timers.Start(session.TimerSpawner, e.tun.SpawnInterval(), func() { e.spawnerTick(sess) })
	if sess.Parity.ColleagueTrack() {
		sess.Timers.Start(session.TimerRoster, e.tun.RosterCheckInterval(), func() { e.rosterTick(sess) })
	}
}

func (e *Engine) startSweep(sess *session.Session) {
	sess.Timers.Start(session.TimerSweep, e.tun.SweepInterval(), func() { e.sweepSession(sess) })
}

// stageTick broadcasts the countdown and fires the timeout exactly once.
func (e *Engine) stageTick(sess *session.Session) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Stage != protocol.StageShift || sess.StageStart.IsZero() {
		return
	}
	left := sess.Remaining(e.now())
	e.broadcast(sess, protocol.Event{
		Type:    protocol.EventTimerUpdate,
		Payload: protocol.TimerUpdate{TimeLeft: int(left.Seconds())},
	})
	if left == 0 {
		sess.Timers.Stop(session.TimerStage)
		sess.Timers.Stop(session.TimerSpawner)
		e.broadcast(sess, protocol.Event{Type: protocol.EventShiftTimeout})
		e.auditLog(sess, "shift_timeout", "", nil)
		e.logger.Info("shift over", "participant", sess.ParticipantID)
	}
}

// ChangeAIMode switches the AI assistant between normal and autonomous.
// Only the AI track during the shift stage may switch; everything else is
// rejected with a typed notification.
func (e *Engine) ChangeAIMode(participantID string, mode protocol.AIMode) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: change ai mode: unknown participant %s", participantID)
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Stage != protocol.StageShift || !sess.Parity.AITrack() {
		e.notify(sess, protocol.NotifyError, "AI assistant is not available")
		return fmt.Errorf("sim: change ai mode: not available for participant %s", participantID)
	}
	if mode != protocol.AIModeNormal && mode != protocol.AIModeAutonomous {
		return fmt.Errorf("sim: change ai mode: unknown mode %q", mode)
	}

	sess.AIMode = mode
	e.broadcast(sess, protocol.Event{Type: protocol.EventAIModeChanged, Payload: protocol.AIModeChange{AIMode: mode}})
	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
	e.broadcast(sess, protocol.Event{
		Type:    protocol.EventTimerUpdate,
		Payload: protocol.TimerUpdate{TimeLeft: int(sess.Remaining(e.now()).Seconds())},
	})
	e.startShiftTimers(sess)

	if mode == protocol.AIModeAutonomous {
		// The assistant picks up the backlog, not just future tickets.
		for _, t := range sess.Tickets {
			if t.Status == protocol.TicketNotAssigned && !t.Tutorial {
				e.scheduleAIConsideration(sess, t.ID)
			}
		}
	}

	e.auditLog(sess, "ai_mode_changed", "", map[string]any{"mode": string(mode)})
	return nil
}

// CompleteTutorial clears the tutorial tickets and begins the shift.
func (e *Engine) CompleteTutorial(participantID string) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: complete tutorial: unknown participant %s", participantID)
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	kept := sess.Tickets[:0]
	for _, t := range sess.Tickets {
		if !t.Tutorial {
			kept = append(kept, t)
		}
	}
	sess.Tickets = kept

	e.beginShiftLocked(sess)
	e.broadcast(sess, protocol.Event{Type: protocol.EventInit, Payload: e.snapshotLocked(sess)})
	e.auditLog(sess, "tutorial_completed", "", nil)
	e.postResearcher(fmt.Sprintf("participant %s completed the tutorial and started the shift", participantID))
	return nil
}

// ResetParticipant archives and tears down a participant's session. The
// next join starts from scratch.
func (e *Engine) ResetParticipant(participantID string) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: reset: unknown participant %s", participantID)
	}

	sess.Mu.Lock()
	tickets := make([]*protocol.Ticket, len(sess.Tickets))
	copy(tickets, sess.Tickets)
	parity, stage := sess.Parity, sess.Stage
	sess.Mu.Unlock()

	if e.archiver != nil {
		e.archiver.Archive(participantID, parity, stage, tickets)
	}
	e.reg.Reset(participantID)
	if rc, ok := e.bc.(RoomCloser); ok {
		rc.CloseRoom(participantID)
	}
	e.audit.Log(audit.Entry{
		Time:          e.now(),
		ParticipantID: participantID,
		Stage:         int(stage),
		Action:        "participant_reset",
		Details:       map[string]any{"tickets": len(tickets)},
	})
	e.postResearcher(fmt.Sprintf("participant %s reset (%d tickets archived)", participantID, len(tickets)))
	return nil
}

// broadcast pushes an event to the session's connections. Callers hold the
// session lock; the broadcaster serializes synchronously so event order
// matches mutation order.
func (e *Engine) broadcast(sess *session.Session, ev protocol.Event) {
	if e.bc != nil {
		e.bc.Broadcast(sess.ParticipantID, ev)
	}
}

func (e *Engine) notify(sess *session.Session, typ protocol.NotificationType, msg string) {
	e.broadcast(sess, protocol.Event{
		Type:    protocol.EventNotification,
		Payload: protocol.Notification{Type: typ, Message: msg},
	})
}

// auditLog records a session action. Callers hold the session lock.
func (e *Engine) auditLog(sess *session.Session, action, ticketID string, details map[string]any) {
	e.audit.Log(audit.Entry{
		Time:          e.now(),
		ParticipantID: sess.ParticipantID,
		Stage:         int(sess.Stage),
		Action:        action,
		TicketID:      ticketID,
		Details:       details,
	})
}

func (e *Engine) postResearcher(text string) {
	if e.notifier != nil {
		e.notifier.Post(text)
	}
}

// after schedules fn once the delay elapses. Continuations re-acquire the
// session lock and re-check their guards; the session may have changed or
// been reset in the meantime.
func (e *Engine) after(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}
