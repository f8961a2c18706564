package sim

import (
	"fmt"
	"strings"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

var (
	happyClientPhrases = []string{
		"Thank you! Everything works now!",
		"Great, the problem is gone. Thanks for the quick help!",
		"Perfect, I can work again. Thank you!",
	}
	unhappyClientPhrases = []string{
		"This didn't help at all. The problem is still there!",
		"I tried that already, it doesn't work. Please look again.",
		"Nothing changed. Can someone actually fix this?",
	}
)

// SetTicketStatus handles the participant taking or releasing a ticket.
// Solving goes through SolveTicket; every rejected transition yields a
// typed notification so it is distinguishable from success.
func (e *Engine) SetTicketStatus(participantID, ticketID string, status protocol.TicketStatus) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: set status: unknown participant %s", participantID)
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	t, ok := sess.Ticket(ticketID)
	if !ok {
		e.notify(sess, protocol.NotifyError, "Ticket not found")
		return fmt.Errorf("sim: set status: unknown ticket %s", ticketID)
	}

	switch status {
	case protocol.TicketInProgress:
		if t.Status == protocol.TicketSolved {
			e.notify(sess, protocol.NotifyError, "This ticket is already solved")
			return fmt.Errorf("sim: set status: ticket %s already solved", ticketID)
		}
		if t.Assignee != protocol.AssigneeNone && t.Assignee != protocol.AssigneeParticipant {
			e.notify(sess, protocol.NotifyError, "Someone is already working on this ticket")
			return fmt.Errorf("sim: set status: ticket %s held by %s", ticketID, t.Assignee)
		}
		t.Status = protocol.TicketInProgress
		t.Assignee = protocol.AssigneeParticipant
		e.startSolveClock(t)

	case protocol.TicketNotAssigned:
		if t.Assignee != protocol.AssigneeParticipant {
			e.notify(sess, protocol.NotifyError, "You can only release tickets assigned to you")
			return fmt.Errorf("sim: set status: ticket %s not held by participant", ticketID)
		}
		t.Status = protocol.TicketNotAssigned
		t.Assignee = protocol.AssigneeNone
		t.DeadlineSolve = nil

	default:
		return fmt.Errorf("sim: set status: %q not settable directly", status)
	}

	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
	e.auditLog(sess, "ticket_status_set", ticketID, map[string]any{"status": string(status)})
	return nil
}

// SolveTicket records the participant's solution and schedules the
// client's review. Tutorial tickets are accepted immediately. For real
// tickets the client accepts a linked article whose keywords intersect the
// ticket text, or, when no article is linked, a free-text solution long
// enough to be substantive; anything else reopens the ticket with a fresh
// resolution deadline.
func (e *Engine) SolveTicket(participantID, ticketID, solution, kbID string) error {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return fmt.Errorf("sim: solve: unknown participant %s", participantID)
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	t, ok := sess.Ticket(ticketID)
	if !ok {
		e.notify(sess, protocol.NotifyError, "Ticket not found")
		return fmt.Errorf("sim: solve: unknown ticket %s", ticketID)
	}
	if t.Assignee != protocol.AssigneeParticipant || t.Status != protocol.TicketInProgress {
		e.notify(sess, protocol.NotifyError, "Take the ticket before solving it")
		return fmt.Errorf("sim: solve: ticket %s not in progress for participant", ticketID)
	}

	now := e.now()
	t.Status = protocol.TicketSolved
	t.Solution = solution
	t.LinkedKBID = kbID
	t.SolutionAuthor = protocol.AssigneeParticipant
	t.Append(protocol.SenderAgent, solution, now)

	if t.Tutorial {
		t.Append(protocol.SenderClient, happyClientPhrases[0], now)
		e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
		e.notify(sess, protocol.NotifySuccess, "Tutorial ticket solved")
		e.auditLog(sess, "ticket_solved", ticketID, map[string]any{"tutorial": true})
		return nil
	}

	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
	e.auditLog(sess, "ticket_solved", ticketID, map[string]any{"kb_id": kbID, "solution_len": len(solution)})

	e.after(e.tun.ReviewDelay(), func() { e.reviewSolution(sess.ParticipantID, ticketID) })
	return nil
}

// reviewSolution is the client's delayed verdict on a participant
// solution. The guard re-checks that the ticket is still solved by the
// participant; an intervening reset or reopen cancels the review.
func (e *Engine) reviewSolution(participantID, ticketID string) {
	sess, ok := e.reg.Get(participantID)
	if !ok {
		return
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	t, ok := sess.Ticket(ticketID)
	if !ok || t.Status != protocol.TicketSolved || t.SolutionAuthor != protocol.AssigneeParticipant {
		return
	}

	now := e.now()
	// A linked article stands or falls on its keyword overlap; the length
	// fallback applies only to free-text solutions.
	var accepted bool
	if t.LinkedKBID != "" {
		accepted = e.cat.SolutionMatches(t.LinkedKBID, t.Title, t.Description)
	} else {
		accepted = len(strings.TrimSpace(t.Solution)) > e.tun.MinSolutionLen
	}

	if accepted {
		t.Append(protocol.SenderClient, happyClientPhrases[e.rng.Intn(len(happyClientPhrases))], now)
		e.notify(sess, protocol.NotifySuccess, fmt.Sprintf("Client accepted your solution for %q", t.Title))
		e.auditLog(sess, "solution_accepted", ticketID, nil)
	} else {
		t.Status = protocol.TicketInProgress
		reopenBy := now.Add(e.tun.ReopenDeadline.For(t.Critical))
		t.DeadlineSolve = &reopenBy
		t.Append(protocol.SenderClient, unhappyClientPhrases[e.rng.Intn(len(unhappyClientPhrases))], now)
		t.Append(protocol.SenderSystem, "The client rejected the solution. The ticket has been reopened.", now)
		e.notify(sess, protocol.NotifyError, fmt.Sprintf("Client rejected your solution for %q", t.Title))
		e.auditLog(sess, "solution_rejected", ticketID, nil)
	}

	e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
}

// startSolveClock arms the resolution deadline when a resolver takes a
// ticket. Tutorial tickets never get deadlines.
func (e *Engine) startSolveClock(t *protocol.Ticket) {
	if t.Tutorial {
		return
	}
	solveBy := e.now().Add(e.tun.SolveDeadline.For(t.Critical))
	t.DeadlineSolve = &solveBy
}
