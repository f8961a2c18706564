package sim

import (
	"fmt"

	"github.com/astarch-code/shiftdesk/internal/session"
	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// sweepSession reports blown deadlines. Each deadline is reported at most
// once per ticket; the sweep never changes a ticket's status, only the
// client's patience.
func (e *Engine) sweepSession(sess *session.Session) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	now := e.now()
	changed := false

	for _, t := range sess.Tickets {
		if t.Tutorial {
			continue
		}
		if !t.AssignOverdueReported &&
			t.DeadlineAssign != nil && now.After(*t.DeadlineAssign) &&
			t.Status == protocol.TicketNotAssigned {
			t.AssignOverdueReported = true
			changed = true
			e.notify(sess, protocol.NotifyWarning, fmt.Sprintf("Ticket %q missed its assignment deadline", t.Title))
			e.auditLog(sess, "deadline_assign_missed", t.ID, nil)
		}
		if !t.SolveOverdueReported &&
			t.DeadlineSolve != nil && now.After(*t.DeadlineSolve) &&
			t.Status != protocol.TicketSolved {
			t.SolveOverdueReported = true
			changed = true
			t.Append(protocol.SenderClient, "This is taking too long. How much longer do I have to wait?!", now)
			e.notify(sess, protocol.NotifyWarning, fmt.Sprintf("Ticket %q missed its resolution deadline", t.Title))
			e.auditLog(sess, "deadline_solve_missed", t.ID, nil)
		}
	}

	if changed {
		e.broadcast(sess, protocol.Event{Type: protocol.EventTicketsUpdate, Payload: sess.Tickets})
	}
}
