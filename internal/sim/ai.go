package sim

import (
	"fmt"
	"strings"

	"github.com/astarch-code/shiftdesk/internal/session"
	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// AskAI answers a ticket lookup for the AI track. The answer is a pure
// knowledge-base lookup and never changes ticket state. Critical tickets
// get a simulated outage reply: the assistant is scripted to be useless
// exactly when the pressure is highest.
func (e *Engine) AskAI(participantID, ticketID string) (protocol.AIAdvice, error) {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return protocol.AIAdvice{}, fmt.Errorf("sim: ask ai: unknown participant %s", participantID)
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Stage != protocol.StageShift || !sess.Parity.AITrack() {
		e.notify(sess, protocol.NotifyError, "AI assistant is not available")
		return protocol.AIAdvice{}, fmt.Errorf("sim: ask ai: not available for participant %s", participantID)
	}
	t, ok := sess.Ticket(ticketID)
	if !ok {
		return protocol.AIAdvice{}, fmt.Errorf("sim: ask ai: unknown ticket %s", ticketID)
	}

	advice := protocol.AIAdvice{TicketID: ticketID}
	switch {
	case t.Critical:
		advice.Text = "Request error, please try again"
	default:
		if a, hit := e.cat.MatchArticle(t.Title); hit {
			advice.Text = fmt.Sprintf("This looks like %q. %s", a.Title, firstSentence(a.Content))
			advice.KBID = a.ID
		} else {
			advice.Text = "I couldn't find a matching article. Try asking the client for more details."
		}
	}

	e.auditLog(sess, "ai_asked", ticketID, map[string]any{"kb_id": advice.KBID})
	return advice, nil
}

func firstSentence(text string) string {
	if i := strings.Index(text, ". "); i >= 0 {
		return text[:i+1]
	}
	return text
}

// scheduleAIConsideration arms the autonomous assistant for one ticket.
// Callers hold the session lock.
func (e *Engine) scheduleAIConsideration(sess *session.Session, ticketID string) {
	e.after(e.tun.AIThinkDelay(), func() { e.aiConsider(sess, ticketID) })
}

// aiConsider is the autonomous assistant's first pass on a ticket: skip
// it, or claim it and schedule an attempt. Critical tickets are mostly
// skipped, and mostly failed when attempted.
func (e *Engine) aiConsider(sess *session.Session, ticketID string) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Stage != protocol.StageShift || sess.AIMode != protocol.AIModeAutonomous || !sess.ActiveLocked() {
		return
	}
	t, ok := sess.Ticket(ticketID)
	if !ok || t.Status != protocol.TicketNotAssigned || t.Assignee != protocol.AssigneeNone {
		return
	}

	missPct := e.tun.AI.MissNormalPct
	if t.Critical {
		missPct = e.tun.AI.MissCriticalPct
	}
	if e.percent(missPct) {
		e.broadcast(sess, protocol.Event{
			Type:    protocol.EventAIAction,
			Payload: protocol.AIAction{Kind: protocol.AIActionMissed, TicketID: t.ID, Message: fmt.Sprintf("AI skipped ticket %q", t.Title)},
		})
		e.auditLog(sess, "ai_missed", t.ID, nil)
		return
	}

	now := e.now()
	t.Status = protocol.TicketInProgress
	t.Assignee = protocol.AssigneeAI
	e.startSolveClock(t)
	t.Append(protocol.SenderAI, "I'm taking this ticket and working on a solution.", now)
	e.broadcast(sess, protocol.Event{
		Type:    protocol.EventAIAction,
		Payload: protocol.AIAction{Kind: protocol.AIActionTaken, TicketID: t.ID, Message: fmt.Sprintf("AI took ticket %q", t.Title)},
	})
	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
	e.auditLog(sess, "ai_taken", t.ID, nil)

	solveIn := e.between(e.tun.AI.SolveNormal.MinMs, e.tun.AI.SolveNormal.MaxMs)
	if t.Critical {
		solveIn = e.between(e.tun.AI.SolveCritical.MinMs, e.tun.AI.SolveCritical.MaxMs)
	}
	e.after(solveIn, func() { e.aiAttempt(sess, ticketID) })
}

// aiAttempt resolves a claimed ticket: release it on failure or solve it
// and attach the best-matching article. The guard re-checks the claim in
// case the ticket moved meanwhile; a reset deactivates the session for
// good, which kills the continuation here.
func (e *Engine) aiAttempt(sess *session.Session, ticketID string) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if !sess.ActiveLocked() {
		return
	}
	t, ok := sess.Ticket(ticketID)
	if !ok || t.Status != protocol.TicketInProgress || t.Assignee != protocol.AssigneeAI {
		return
	}

	now := e.now()
	failPct := e.tun.AI.FailNormalPct
	if t.Critical {
		failPct = e.tun.AI.FailCriticalPct
	}
	if e.percent(failPct) {
		t.Status = protocol.TicketNotAssigned
		t.Assignee = protocol.AssigneeNone
		t.DeadlineSolve = nil
		t.Append(protocol.SenderAI, "I couldn't resolve this one. Returning it to the queue.", now)
		e.broadcast(sess, protocol.Event{
			Type:    protocol.EventAIAction,
			Payload: protocol.AIAction{Kind: protocol.AIActionFailed, TicketID: t.ID, Message: fmt.Sprintf("AI failed on ticket %q", t.Title)},
		})
		e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
		e.auditLog(sess, "ai_failed", t.ID, nil)
		return
	}

	t.Status = protocol.TicketSolved
	t.SolutionAuthor = protocol.AssigneeAI
	if a, hit := e.cat.MatchArticle(t.Title); hit {
		t.LinkedKBID = a.ID
		t.Solution = fmt.Sprintf("Applied %q: %s", a.Title, firstSentence(a.Content))
	} else {
		t.Solution = "Issue resolved after remote diagnostics."
	}
	t.Append(protocol.SenderAI, t.Solution, now)
	e.broadcast(sess, protocol.Event{
		Type:    protocol.EventAIAction,
		Payload: protocol.AIAction{Kind: protocol.AIActionSolved, TicketID: t.ID, Message: fmt.Sprintf("AI solved ticket %q", t.Title)},
	})
	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
	e.auditLog(sess, "ai_solved", t.ID, map[string]any{"kb_id": t.LinkedKBID})

	e.after(e.tun.ClientReplyDelay(), func() { e.clientThanks(sess, ticketID, protocol.AssigneeAI) })
}

// clientThanks appends the client's acknowledgement once a ticket stays
// solved by the given author through the reply delay.
func (e *Engine) clientThanks(sess *session.Session, ticketID, author string) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if !sess.ActiveLocked() {
		return
	}
	t, ok := sess.Ticket(ticketID)
	if !ok || t.Status != protocol.TicketSolved || t.SolutionAuthor != author {
		return
	}
	t.Append(protocol.SenderClient, happyClientPhrases[e.rng.Intn(len(happyClientPhrases))], e.now())
	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
}
