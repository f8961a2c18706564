package sim

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/astarch-code/shiftdesk/internal/session"
	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

const (
	criticalTitle       = "🚨 CRITICAL: SERVER DOWN - URGENT!"
	criticalDescription = "The main production server is not responding. All departments are blocked. Fix immediately!"
)

// spawnerTick implements the spawn policy: during the first half of the
// shift each tick may yield a normal ticket; during the second half only
// critical tickets appear, throttled by the cooldown.
func (e *Engine) spawnerTick(sess *session.Session) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Stage != protocol.StageShift || !sess.ActiveLocked() || sess.StageStart.IsZero() {
		return
	}
	now := e.now()
	elapsed := sess.Elapsed(now)
	if elapsed >= sess.StageDuration {
		return
	}

	if elapsed < sess.StageDuration/2 {
		if e.chance(e.tun.SpawnProbability) {
			e.spawnTicketLocked(sess, false, false)
		}
		return
	}
	if now.Sub(sess.LastCriticalSpawn) >= e.tun.CriticalCooldown() {
		sess.LastCriticalSpawn = now
		e.spawnTicketLocked(sess, true, false)
	}
}

// spawnTicketLocked creates a ticket, announces it, and arms whatever
// automatic reaction the session's track and AI mode call for. Callers
// hold the session lock.
func (e *Engine) spawnTicketLocked(sess *session.Session, critical, tutorial bool) *protocol.Ticket {
	now := e.now()

	t := &protocol.Ticket{
		ID:        uuid.NewString(),
		Severity:  protocol.SeverityNormal,
		Status:    protocol.TicketNotAssigned,
		CreatedAt: now,
		Critical:  critical,
		Tutorial:  tutorial,
	}
	if critical {
		t.Severity = protocol.SeverityCritical
		t.Title = criticalTitle
		t.Description = criticalDescription
	} else {
		tmpl := e.cat.Template(e.rng.Intn(len(e.cat.Templates)))
		t.Title = tmpl.Title
		t.Description = tmpl.Description
	}
	if !tutorial {
		// The solve clock starts only when a resolver takes the ticket.
		assignBy := now.Add(e.tun.AssignDeadline.For(critical))
		t.DeadlineAssign = &assignBy
	}
	t.Append(protocol.SenderClient, t.Description, now)

	sess.Tickets = append(sess.Tickets, t)
	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketNew, Payload: t})
	if critical {
		e.notify(sess, protocol.NotifyCritical, fmt.Sprintf("Critical ticket: %s", t.Title))
	}
	e.auditLog(sess, "ticket_spawned", t.ID, map[string]any{"critical": critical, "tutorial": tutorial})

	if tutorial || !sess.Parity.AITrack() || sess.Stage != protocol.StageShift {
		return t
	}
	switch sess.AIMode {
	case protocol.AIModeAutonomous:
		e.scheduleAIConsideration(sess, t.ID)
	case protocol.AIModeNormal:
		// In normal mode the assistant only points the ticket out.
		ticketID := t.ID
		e.after(e.tun.NewTicketNotice(), func() {
			sess.Mu.Lock()
			defer sess.Mu.Unlock()
			if _, ok := sess.Ticket(ticketID); !ok || !sess.ActiveLocked() {
				return
			}
			e.broadcast(sess, protocol.Event{
				Type:    protocol.EventAINotification,
				Payload: protocol.Notification{Type: protocol.NotifyInfo, Message: "A new ticket has arrived. I can help if you open it."},
			})
		})
	}
	return t
}

// SpawnCriticalTicket injects a critical ticket on demand, bypassing the
// spawner's cooldown.
func (e *Engine) SpawnCriticalTicket(participantID string) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: spawn critical: unknown participant %s", participantID)
	}
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	sess.LastCriticalSpawn = e.now()
	e.spawnTicketLocked(sess, true, false)
	return nil
}

// SpawnTutorialTicket injects a single tutorial ticket.
func (e *Engine) SpawnTutorialTicket(participantID string) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: spawn tutorial: unknown participant %s", participantID)
	}
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	e.spawnTicketLocked(sess, false, true)
	return nil
}

// scheduleTutorialSpawn staggers the tutorial tickets so they arrive one
// by one. Callers hold the session lock.
func (e *Engine) scheduleTutorialSpawn(sess *session.Session) {
	for i := 0; i < e.tun.TutorialTicketCount; i++ {
		delay := time.Duration(i+1) * e.tun.TutorialSpawnDelay()
		e.after(delay, func() {
			sess.Mu.Lock()
			defer sess.Mu.Unlock()
			if sess.Stage != protocol.StageTutorial || !sess.ActiveLocked() {
				return
			}
			e.spawnTicketLocked(sess, false, true)
		})
	}
}
