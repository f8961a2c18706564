package sim

import (
	"fmt"

	"github.com/astarch-code/shiftdesk/internal/session"
	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// delegateResolvedKB tags tickets a colleague solved. It is not a real
// knowledge-base article.
const delegateResolvedKB = "bot_auto"

// Delegate hands a ticket the participant is working on to a simulated
// colleague. Acceptance is a single draw against the colleague's trust; a
// refusal arrives after a delay, half the time as silence, and leaves the
// ticket with the participant. An accepted ticket is reassigned
// immediately and resolved later, with critical tickets almost always
// bounced back.
func (e *Engine) Delegate(participantID, ticketID, agentID string) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: delegate: unknown participant %s", participantID)
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Stage != protocol.StageShift || !sess.Parity.ColleagueTrack() {
		e.notify(sess, protocol.NotifyError, "Delegation is not available")
		return fmt.Errorf("sim: delegate: not available for participant %s", participantID)
	}
	t, ok := sess.Ticket(ticketID)
	if !ok {
		e.notify(sess, protocol.NotifyError, "Ticket not found")
		return fmt.Errorf("sim: delegate: unknown ticket %s", ticketID)
	}
	if t.Status == protocol.TicketSolved {
		e.notify(sess, protocol.NotifyError, "This ticket is already solved")
		return fmt.Errorf("sim: delegate: ticket %s already solved", ticketID)
	}
	if t.Status != protocol.TicketInProgress || t.Assignee != protocol.AssigneeParticipant {
		e.notify(sess, protocol.NotifyError, "Take the ticket before delegating it")
		return fmt.Errorf("sim: delegate: ticket %s not held by participant", ticketID)
	}
	agent, ok := sess.Agent(agentID)
	if !ok {
		e.notify(sess, protocol.NotifyError, "Unknown colleague")
		return fmt.Errorf("sim: delegate: unknown agent %s", agentID)
	}
	if agent.Status != protocol.AgentOnline {
		e.broadcast(sess, protocol.Event{
			Type:    protocol.EventBotNotification,
			Payload: protocol.BotNotification{BotName: agent.Name, Message: fmt.Sprintf("%s is not available right now", agent.Name), Type: protocol.NotifyError},
		})
		return fmt.Errorf("sim: delegate: agent %s is %s", agentID, agent.Status)
	}

	now := e.now()

	if !e.chance(agent.Trust) {
		// Refusal comes back later, or not at all.
		e.auditLog(sess, "delegate_refused", ticketID, map[string]any{"agent": agentID})
		delay := e.between(e.tun.Delegate.RefusalDelay.MinMs, e.tun.Delegate.RefusalDelay.MaxMs)
		silent := e.rng.Intn(2) == 0
		agentName := agent.Name
		e.after(delay, func() {
			sess.Mu.Lock()
			defer sess.Mu.Unlock()
			if !sess.ActiveLocked() {
				return
			}
			n := protocol.BotNotification{BotName: agentName, Type: protocol.NotifyWarning}
			if silent {
				n.Message = fmt.Sprintf("%s didn't respond to your request", agentName)
			} else {
				n.Message = fmt.Sprintf("%s: Sorry, I'm swamped. Can't take it.", agentName)
			}
			e.broadcast(sess, protocol.Event{Type: protocol.EventBotNotification, Payload: n})
		})
		return nil
	}

	t.Status = protocol.TicketInProgress
	t.Assignee = agent.ID
	e.startSolveClock(t)
	t.Append(protocol.SenderAgent, fmt.Sprintf("%s: %s I'll take a look.", agent.Name, agent.Greeting), now)
	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
	e.broadcast(sess, protocol.Event{
		Type:    protocol.EventBotNotification,
		Payload: protocol.BotNotification{BotName: agent.Name, Message: fmt.Sprintf("%s accepted ticket %q", agent.Name, t.Title), Type: protocol.NotifyInfo},
	})
	e.auditLog(sess, "delegate_accepted", ticketID, map[string]any{"agent": agentID})

	solveIn := e.between(e.tun.Delegate.SolveNormal.MinMs, e.tun.Delegate.SolveNormal.MaxMs)
	if t.Critical {
		solveIn = e.between(e.tun.Delegate.SolveCritical.MinMs, e.tun.Delegate.SolveCritical.MaxMs)
	}
	e.after(solveIn, func() { e.delegateAttempt(sess, ticketID, agentID) })
	return nil
}

// delegateAttempt finishes a delegated ticket. The guard re-checks that
// the session is still live and the colleague still holds the ticket.
func (e *Engine) delegateAttempt(sess *session.Session, ticketID, agentID string) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if !sess.ActiveLocked() {
		return
	}
	t, ok := sess.Ticket(ticketID)
	if !ok || t.Status != protocol.TicketInProgress || t.Assignee != agentID {
		return
	}
	agent, ok := sess.Agent(agentID)
	if !ok {
		return
	}

	now := e.now()
	if t.Critical && e.percent(e.tun.Delegate.CriticalFailPct) {
		t.Status = protocol.TicketNotAssigned
		t.Assignee = protocol.AssigneeNone
		t.DeadlineSolve = nil
		t.Append(protocol.SenderAgent, fmt.Sprintf("%s: This is beyond me, I have to give it back. Sorry!", agent.Name), now)
		t.Append(protocol.SenderSystem, "The ticket has been returned to the queue.", now)
		e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
		e.broadcast(sess, protocol.Event{
			Type:    protocol.EventBotNotification,
			Payload: protocol.BotNotification{BotName: agent.Name, Message: fmt.Sprintf("%s couldn't handle the critical ticket", agent.Name), Type: protocol.NotifyError},
		})
		e.auditLog(sess, "delegate_failed", ticketID, map[string]any{"agent": agentID})
		return
	}

	t.Status = protocol.TicketSolved
	t.SolutionAuthor = agent.ID
	t.LinkedKBID = delegateResolvedKB
	t.Solution = "Fixed it on site, should be fine now."
	t.Append(protocol.SenderAgent, fmt.Sprintf("%s: Done! %s", agent.Name, t.Solution), now)
	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
	e.broadcast(sess, protocol.Event{
		Type:    protocol.EventBotNotification,
		Payload: protocol.BotNotification{BotName: agent.Name, Message: fmt.Sprintf("%s solved ticket %q", agent.Name, t.Title), Type: protocol.NotifySuccess},
	})
	e.auditLog(sess, "delegate_solved", ticketID, map[string]any{"agent": agentID, "kb_id": t.LinkedKBID})

	e.after(e.tun.ClientReplyDelay(), func() { e.clientThanks(sess, ticketID, agentID) })
}

// rosterTick randomly toggles colleague availability: online colleagues
// step away, away colleagues come back. Offline colleagues were never
// drawn into this shift and stay offline.
func (e *Engine) rosterTick(sess *session.Session) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Stage != protocol.StageShift || !sess.ActiveLocked() {
		return
	}

	changed := false
	for i := range sess.Agents {
		a := &sess.Agents[i]
		switch a.Status {
		case protocol.AgentOnline:
			if e.chance(e.tun.Roster.LeaveProbability) {
				a.Status = protocol.AgentAway
				changed = true
				e.auditLog(sess, "agent_away", "", map[string]any{"agent": a.ID})
			}
		case protocol.AgentAway:
			if e.chance(e.tun.Roster.ReturnProbability) {
				a.Status = protocol.AgentOnline
				changed = true
				e.auditLog(sess, "agent_online", "", map[string]any{"agent": a.ID})
			}
		}
	}

	if changed {
		e.broadcast(sess, protocol.Event{Type: protocol.EventAgentsUpdate, Payload: sess.Agents})
	}
}
