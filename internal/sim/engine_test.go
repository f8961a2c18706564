package sim

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/astarch-code/shiftdesk/internal/audit"
	"github.com/astarch-code/shiftdesk/internal/catalog"
	"github.com/astarch-code/shiftdesk/internal/session"
	"github.com/astarch-code/shiftdesk/internal/tuning"
	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// scriptRand replays scripted draws. Exhausted scripts repeat their last
// value so delayed continuations stay deterministic.
type scriptRand struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
	fi, ii int
}

func (r *scriptRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0.5
	}
	v := r.floats[r.fi]
	if r.fi < len(r.floats)-1 {
		r.fi++
	}
	return v
}

func (r *scriptRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[r.ii]
	if r.ii < len(r.ints)-1 {
		r.ii++
	}
	return v % n
}

// recorder captures broadcast events.
type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recorder) Broadcast(_ string, ev protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(t protocol.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// captureAudit records audit entries in memory.
type captureAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureAudit) Log(e audit.Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

func (c *captureAudit) has(action string) bool {
	return c.count(action) > 0
}

func (c *captureAudit) count(action string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

var testBase = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testTuning() tuning.Tuning {
	tun := tuning.Default()
	tun.TutorialTicketCount = 0
	tun.ReviewDelayMs = 10
	tun.ClientReplyDelayMs = 10
	tun.NewTicketNoticeMs = 10
	tun.AI.ThinkDelayMs = 10
	tun.AI.SolveNormal = tuning.Range{MinMs: 10, MaxMs: 10}
	tun.AI.SolveCritical = tuning.Range{MinMs: 10, MaxMs: 10}
	tun.Delegate.RefusalDelay = tuning.Range{MinMs: 10, MaxMs: 10}
	tun.Delegate.SolveNormal = tuning.Range{MinMs: 10, MaxMs: 10}
	tun.Delegate.SolveCritical = tuning.Range{MinMs: 10, MaxMs: 10}
	return tun
}

func newTestEngine(t *testing.T, rng Rand, tun tuning.Tuning) (*Engine, *recorder, *captureAudit) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat, err := catalog.Load("", logger)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	rec := &recorder{}
	aud := &captureAudit{}
	e := NewEngine(Options{
		Registry:  session.NewRegistry(logger),
		Catalog:   cat,
		Tuning:    tun,
		Broadcast: rec,
		Audit:     aud,
		Rand:      rng,
		Now:       func() time.Time { return testBase },
		Logger:    logger,
	})
	return e, rec, aud
}

// startShift joins a connection and moves the session straight into the
// shift stage without arming the cron timers, so tests control every tick.
func startShift(t *testing.T, e *Engine, pid string, parity protocol.Parity) *session.Session {
	t.Helper()
	if _, err := e.Join("conn-"+pid, pid, parity); err != nil {
		t.Fatalf("join: %v", err)
	}
	sess, _ := e.reg.Get(pid)
	sess.Mu.Lock()
	sess.Stage = protocol.StageShift
	sess.StageStart = testBase
	sess.StageDuration = e.tun.ShiftDuration()
	sess.Mu.Unlock()
	return sess
}

func spawn(e *Engine, sess *session.Session, critical, tutorial bool) *protocol.Ticket {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	return e.spawnTicketLocked(sess, critical, tutorial)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ticketState(sess *session.Session, id string) (protocol.TicketStatus, string, string) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	tk, _ := sess.Ticket(id)
	return tk.Status, tk.Assignee, tk.SolutionAuthor
}

func lastMessageFrom(sess *session.Session, id string) string {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	tk, _ := sess.Ticket(id)
	if len(tk.Messages) == 0 {
		return ""
	}
	return tk.Messages[len(tk.Messages)-1].From
}

// --- Spawning and deadlines ---

func TestSpawnDeadlines(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	normal := spawn(e, sess, false, false)
	critical := spawn(e, sess, true, false)

	if got := normal.DeadlineAssign.Sub(normal.CreatedAt); got != 120*time.Second {
		t.Errorf("normal assign window = %v", got)
	}
	if got := critical.DeadlineAssign.Sub(critical.CreatedAt); got != 60*time.Second {
		t.Errorf("critical assign window = %v", got)
	}
	// The solve clock starts only when a resolver takes the ticket.
	if normal.DeadlineSolve != nil || critical.DeadlineSolve != nil {
		t.Error("solve deadline set before anyone took the ticket")
	}
	if critical.Severity != protocol.SeverityCritical || !critical.Critical {
		t.Error("critical ticket not marked critical")
	}
	if len(normal.Messages) != 1 || normal.Messages[0].From != protocol.SenderClient {
		t.Errorf("opening message = %+v", normal.Messages)
	}
	if rec.count(protocol.EventTicketNew) != 2 {
		t.Errorf("ticket:new events = %d", rec.count(protocol.EventTicketNew))
	}
	if rec.count(protocol.EventNotification) != 1 {
		t.Errorf("critical notifications = %d", rec.count(protocol.EventNotification))
	}
}

func TestTutorialTicketHasNoDeadlines(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	tk := spawn(e, sess, false, true)
	if tk.DeadlineAssign != nil || tk.DeadlineSolve != nil {
		t.Error("tutorial ticket got deadlines")
	}
	if !tk.Tutorial {
		t.Error("tutorial flag not set")
	}
}

func TestSpawnerFirstHalf(t *testing.T) {
	// First half of the shift: a passing probability draw yields one
	// normal ticket per tick.
	rng := &scriptRand{floats: []float64{0.1}}
	e, _, _ := newTestEngine(t, rng, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	e.spawnerTick(sess)

	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	if len(sess.Tickets) != 1 {
		t.Fatalf("tickets = %d", len(sess.Tickets))
	}
	if sess.Tickets[0].Critical {
		t.Error("first-half spawn was critical")
	}
}

func TestSpawnerSecondHalfCriticalWithCooldown(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	sess.Mu.Lock()
	sess.StageStart = testBase.Add(-6 * time.Minute) // past the halfway mark
	sess.Mu.Unlock()

	e.spawnerTick(sess)
	e.spawnerTick(sess) // inside the cooldown, must not spawn

	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	if len(sess.Tickets) != 1 {
		t.Fatalf("tickets = %d", len(sess.Tickets))
	}
	if !sess.Tickets[0].Critical {
		t.Error("second-half spawn was not critical")
	}
}

// --- Deadline sweep ---

func TestSweepReportsAssignOverdueOnce(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	past := testBase.Add(-time.Second)
	future := testBase.Add(time.Hour)
	tk := &protocol.Ticket{
		ID: "t1", Title: "Stuck ticket", Status: protocol.TicketNotAssigned,
		CreatedAt: testBase.Add(-2 * time.Minute), DeadlineAssign: &past, DeadlineSolve: &future,
	}
	sess.Mu.Lock()
	sess.Tickets = append(sess.Tickets, tk)
	sess.Mu.Unlock()

	e.sweepSession(sess)
	e.sweepSession(sess)

	if !tk.AssignOverdueReported {
		t.Error("overdue not flagged")
	}
	if tk.Status != protocol.TicketNotAssigned {
		t.Errorf("sweep changed status to %q", tk.Status)
	}
	if rec.count(protocol.EventNotification) != 1 {
		t.Errorf("warnings = %d, want exactly one", rec.count(protocol.EventNotification))
	}
}

func TestSweepIgnoresTutorialTickets(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	past := testBase.Add(-time.Second)
	tk := &protocol.Ticket{
		ID: "t1", Status: protocol.TicketNotAssigned, Tutorial: true,
		DeadlineAssign: &past, DeadlineSolve: &past,
	}
	sess.Mu.Lock()
	sess.Tickets = append(sess.Tickets, tk)
	sess.Mu.Unlock()

	e.sweepSession(sess)
	if rec.count(protocol.EventNotification) != 0 {
		t.Error("sweep reported a tutorial ticket")
	}
}

// --- Shift clock ---

func TestStageTickCountdownAndTimeout(t *testing.T) {
	e, rec, aud := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	e.stageTick(sess)
	if rec.count(protocol.EventTimerUpdate) != 1 {
		t.Fatalf("timer updates = %d", rec.count(protocol.EventTimerUpdate))
	}
	if rec.count(protocol.EventShiftTimeout) != 0 {
		t.Fatal("timeout fired with time left")
	}

	sess.Mu.Lock()
	sess.StageStart = testBase.Add(-sess.StageDuration)
	sess.Mu.Unlock()

	e.stageTick(sess)
	if rec.count(protocol.EventShiftTimeout) != 1 {
		t.Errorf("timeouts = %d", rec.count(protocol.EventShiftTimeout))
	}
	if !aud.has("shift_timeout") {
		t.Error("timeout not audited")
	}
	if sess.Timers.Running(session.TimerStage) || sess.Timers.Running(session.TimerSpawner) {
		t.Error("shift timers still armed after timeout")
	}
}

// --- Participant lifecycle ---

func TestTakeAndReleaseTicket(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	if err := e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress); err != nil {
		t.Fatalf("take: %v", err)
	}
	if status, assignee, _ := ticketState(sess, tk.ID); status != protocol.TicketInProgress || assignee != protocol.AssigneeParticipant {
		t.Errorf("after take: %s/%s", status, assignee)
	}
	sess.Mu.Lock()
	if want := testBase.Add(180 * time.Second); tk.DeadlineSolve == nil || !tk.DeadlineSolve.Equal(want) {
		t.Errorf("solve deadline after take = %v, want %v", tk.DeadlineSolve, want)
	}
	sess.Mu.Unlock()

	if err := e.SetTicketStatus("p1", tk.ID, protocol.TicketNotAssigned); err != nil {
		t.Fatalf("release: %v", err)
	}
	if status, assignee, _ := ticketState(sess, tk.ID); status != protocol.TicketNotAssigned || assignee != protocol.AssigneeNone {
		t.Errorf("after release: %s/%s", status, assignee)
	}
	sess.Mu.Lock()
	if tk.DeadlineSolve != nil {
		t.Error("solve deadline survived the release")
	}
	sess.Mu.Unlock()
}

func TestSweepSkipsSolveDeadlineUntilTaken(t *testing.T) {
	e, rec, aud := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	spawn(e, sess, false, false)

	e.sweepSession(sess)

	if aud.count("deadline_solve_missed") != 0 {
		t.Error("sweep reported a resolution deadline on a ticket nobody took")
	}
	if rec.count(protocol.EventNotification) != 0 {
		t.Errorf("warnings = %d", rec.count(protocol.EventNotification))
	}
}

func TestReleaseRequiresOwnership(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	sess.Mu.Lock()
	tk.Status = protocol.TicketInProgress
	tk.Assignee = "bot1"
	sess.Mu.Unlock()

	if err := e.SetTicketStatus("p1", tk.ID, protocol.TicketNotAssigned); err == nil {
		t.Fatal("released a ticket held by a colleague")
	}
	if rec.count(protocol.EventNotification) == 0 {
		t.Error("rejection produced no notification")
	}
}

func TestSolveReviewAcceptsLinkedArticle(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	tk := &protocol.Ticket{
		ID: "t1", Title: "Printer in Accounting Jammed Paper",
		Description: "Print queue stalled, red light blinking.",
		Status:      protocol.TicketNotAssigned, CreatedAt: testBase,
	}
	sess.Mu.Lock()
	sess.Tickets = append(sess.Tickets, tk)
	sess.Mu.Unlock()

	e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress)
	if err := e.SolveTicket("p1", tk.ID, "rollers", "kb_102"); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if status, _, author := ticketState(sess, tk.ID); status != protocol.TicketSolved || author != protocol.AssigneeParticipant {
		t.Fatalf("after solve: %s by %q", status, author)
	}

	waitFor(t, "client acceptance", func() bool {
		return lastMessageFrom(sess, tk.ID) == protocol.SenderClient
	})
	if status, _, _ := ticketState(sess, tk.ID); status != protocol.TicketSolved {
		t.Errorf("accepted solution reopened: %s", status)
	}
	if rec.count(protocol.EventNotification) == 0 {
		t.Error("no success notification")
	}
}

func TestSolveReviewRejectsWeakSolution(t *testing.T) {
	e, _, aud := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress)
	if err := e.SolveTicket("p1", tk.ID, "fixed", ""); err != nil {
		t.Fatalf("solve: %v", err)
	}

	waitFor(t, "reopen", func() bool {
		status, _, _ := ticketState(sess, tk.ID)
		return status == protocol.TicketInProgress
	})

	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	got, _ := sess.Ticket(tk.ID)
	if got.Assignee != protocol.AssigneeParticipant {
		t.Errorf("reopened ticket assignee = %q", got.Assignee)
	}
	if want := testBase.Add(120 * time.Second); !got.DeadlineSolve.Equal(want) {
		t.Errorf("reopen deadline = %v, want %v", got.DeadlineSolve, want)
	}
	if got.Messages[len(got.Messages)-1].From != protocol.SenderSystem {
		t.Error("missing reopen system message")
	}
	if !aud.has("solution_rejected") {
		t.Error("rejection not audited")
	}
}

func TestSolveReviewRejectsUnrelatedArticle(t *testing.T) {
	// A linked article stands or falls on its keyword overlap; long free
	// text does not rescue a bad link.
	e, _, aud := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	tk := &protocol.Ticket{
		ID: "t1", Title: "Printer in Accounting Jammed Paper",
		Description: "Print queue stalled, red light blinking.",
		Status:      protocol.TicketNotAssigned, CreatedAt: testBase,
	}
	sess.Mu.Lock()
	sess.Tickets = append(sess.Tickets, tk)
	sess.Mu.Unlock()

	e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress)
	solution := "Cleared the stuck job and power cycled the device twice."
	if err := e.SolveTicket("p1", tk.ID, solution, "kb_105"); err != nil {
		t.Fatalf("solve: %v", err)
	}

	waitFor(t, "reopen", func() bool {
		status, _, _ := ticketState(sess, tk.ID)
		return status == protocol.TicketInProgress
	})
	if !aud.has("solution_rejected") {
		t.Error("rejection not audited")
	}
}

func TestReopenKeepsOverdueFlag(t *testing.T) {
	// The solve-overdue warning fires at most once per ticket, even across
	// a rejection reopen.
	e, _, aud := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress)
	past := testBase.Add(-time.Second)
	sess.Mu.Lock()
	tk.DeadlineSolve = &past
	sess.Mu.Unlock()

	e.sweepSession(sess)
	if aud.count("deadline_solve_missed") != 1 {
		t.Fatalf("solve warnings = %d", aud.count("deadline_solve_missed"))
	}

	if err := e.SolveTicket("p1", tk.ID, "fixed", ""); err != nil {
		t.Fatalf("solve: %v", err)
	}
	waitFor(t, "reopen", func() bool {
		status, _, _ := ticketState(sess, tk.ID)
		return status == protocol.TicketInProgress
	})

	sess.Mu.Lock()
	tk.DeadlineSolve = &past
	sess.Mu.Unlock()
	e.sweepSession(sess)

	if aud.count("deadline_solve_missed") != 1 {
		t.Errorf("solve warnings after reopen = %d, want still one", aud.count("deadline_solve_missed"))
	}
}

func TestSolveRequiresTakenTicket(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	if err := e.SolveTicket("p1", tk.ID, "a perfectly long solution text", ""); err == nil {
		t.Error("solved a ticket that was never taken")
	}
}

func TestTutorialSolveSkipsReview(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, true)

	e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress)
	if err := e.SolveTicket("p1", tk.ID, "ok", ""); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if status, _, _ := ticketState(sess, tk.ID); status != protocol.TicketSolved {
		t.Errorf("tutorial ticket status = %s", status)
	}
	if lastMessageFrom(sess, tk.ID) != protocol.SenderClient {
		t.Error("tutorial client acknowledgement missing")
	}
}

// --- Autonomous AI ---

func TestAIAutonomousSolves(t *testing.T) {
	rng := &scriptRand{floats: []float64{0.99}} // above both miss and fail cutoffs
	e, rec, _ := newTestEngine(t, rng, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityEven)
	sess.Mu.Lock()
	sess.AIMode = protocol.AIModeAutonomous
	sess.Mu.Unlock()

	tk := spawn(e, sess, false, false)

	waitFor(t, "ai solve", func() bool {
		status, _, author := ticketState(sess, tk.ID)
		return status == protocol.TicketSolved && author == protocol.AssigneeAI
	})
	waitFor(t, "client thanks", func() bool {
		return lastMessageFrom(sess, tk.ID) == protocol.SenderClient
	})

	if rec.count(protocol.EventAIAction) < 2 {
		t.Errorf("ai actions = %d, want taken+solved", rec.count(protocol.EventAIAction))
	}
}

func TestAIMissesTicket(t *testing.T) {
	rng := &scriptRand{floats: []float64{0.1}} // below the 20% miss cutoff
	e, rec, _ := newTestEngine(t, rng, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityEven)
	sess.Mu.Lock()
	sess.AIMode = protocol.AIModeAutonomous
	sess.Mu.Unlock()

	tk := spawn(e, sess, false, false)

	waitFor(t, "ai miss", func() bool {
		return rec.count(protocol.EventAIAction) == 1
	})
	if status, assignee, _ := ticketState(sess, tk.ID); status != protocol.TicketNotAssigned || assignee != protocol.AssigneeNone {
		t.Errorf("missed ticket moved: %s/%s", status, assignee)
	}
}

func TestAskAI(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityEven)

	tk := &protocol.Ticket{ID: "t1", Title: "Printer in Accounting Jammed Paper", Status: protocol.TicketNotAssigned}
	crit := &protocol.Ticket{ID: "t2", Title: criticalTitle, Critical: true, Status: protocol.TicketNotAssigned}
	sess.Mu.Lock()
	sess.Tickets = append(sess.Tickets, tk, crit)
	sess.Mu.Unlock()

	advice, err := e.AskAI("p1", "t1")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if advice.KBID != "kb_102" {
		t.Errorf("kb id = %q", advice.KBID)
	}

	// The assistant is scripted to fail on critical tickets.
	advice, err = e.AskAI("p1", "t2")
	if err != nil {
		t.Fatalf("ask critical: %v", err)
	}
	if advice.KBID != "" || advice.Text != "Request error, please try again" {
		t.Errorf("critical advice = %+v", advice)
	}
}

func TestAskAIWrongTrack(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	if _, err := e.AskAI("p1", tk.ID); err == nil {
		t.Error("ask succeeded on the colleague track")
	}
}

func TestChangeAIModeRules(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())

	// Colleague track may never switch.
	startShift(t, e, "odd", protocol.ParityOdd)
	if err := e.ChangeAIMode("odd", protocol.AIModeAutonomous); err == nil {
		t.Error("mode change allowed on colleague track")
	}

	// AI track outside the shift stage may not switch either.
	if _, err := e.Join("conn-early", "early", protocol.ParityEven); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := e.ChangeAIMode("early", protocol.AIModeAutonomous); err == nil {
		t.Error("mode change allowed during tutorial")
	}
}

func TestChangeAIModePicksUpBacklog(t *testing.T) {
	rng := &scriptRand{floats: []float64{0.99}}
	e, _, _ := newTestEngine(t, rng, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityEven)
	defer sess.Timers.StopAll()
	tk := spawn(e, sess, false, false) // spawned in normal mode, untouched

	if err := e.ChangeAIMode("p1", protocol.AIModeAutonomous); err != nil {
		t.Fatalf("mode change: %v", err)
	}
	waitFor(t, "backlog pickup", func() bool {
		status, _, _ := ticketState(sess, tk.ID)
		return status != protocol.TicketNotAssigned
	})
}

// --- Delegation ---

func TestDelegateRefusal(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{floats: []float64{0.5}}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	sess.Mu.Lock()
	sess.Agents[0].Trust = 0 // always refuses
	sess.Agents[0].Status = protocol.AgentOnline
	agentID := sess.Agents[0].ID
	sess.Mu.Unlock()

	if err := e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := e.Delegate("p1", tk.ID, agentID); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	waitFor(t, "refusal notice", func() bool {
		return rec.count(protocol.EventBotNotification) == 1
	})
	// A refusal leaves the ticket with the participant.
	if status, assignee, _ := ticketState(sess, tk.ID); status != protocol.TicketInProgress || assignee != protocol.AssigneeParticipant {
		t.Errorf("refused ticket moved: %s/%s", status, assignee)
	}
}

func TestDelegateRequiresHeldTicket(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	sess.Mu.Lock()
	sess.Agents[0].Trust = 1.0
	sess.Agents[0].Status = protocol.AgentOnline
	agentID := sess.Agents[0].ID
	sess.Mu.Unlock()

	// Unassigned tickets cannot be delegated.
	if err := e.Delegate("p1", tk.ID, agentID); err == nil {
		t.Fatal("delegated a ticket nobody took")
	}
	if status, assignee, _ := ticketState(sess, tk.ID); status != protocol.TicketNotAssigned || assignee != protocol.AssigneeNone {
		t.Errorf("rejected delegation moved the ticket: %s/%s", status, assignee)
	}
	if rec.count(protocol.EventNotification) != 1 {
		t.Errorf("notifications = %d", rec.count(protocol.EventNotification))
	}

	// Neither can tickets held by someone else.
	sess.Mu.Lock()
	tk.Status = protocol.TicketInProgress
	tk.Assignee = "bot2"
	sess.Mu.Unlock()
	if err := e.Delegate("p1", tk.ID, agentID); err == nil {
		t.Error("delegated a ticket held by a colleague")
	}
}

func TestDelegateAcceptAndSolve(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{floats: []float64{0.5}}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	sess.Mu.Lock()
	sess.Agents[0].Trust = 1.0
	sess.Agents[0].Status = protocol.AgentOnline
	agentID := sess.Agents[0].ID
	sess.Mu.Unlock()

	if err := e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := e.Delegate("p1", tk.ID, agentID); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	// Accepted tickets are reassigned immediately, with a fresh solve clock.
	if status, assignee, _ := ticketState(sess, tk.ID); status != protocol.TicketInProgress || assignee != agentID {
		t.Fatalf("after accept: %s/%s", status, assignee)
	}
	sess.Mu.Lock()
	if tk.DeadlineSolve == nil {
		t.Error("solve clock not running for the colleague")
	}
	sess.Mu.Unlock()

	waitFor(t, "colleague solve", func() bool {
		status, _, author := ticketState(sess, tk.ID)
		return status == protocol.TicketSolved && author == agentID
	})
	sess.Mu.Lock()
	if tk.LinkedKBID != "bot_auto" {
		t.Errorf("kb reference = %q, want the synthetic delegate tag", tk.LinkedKBID)
	}
	sess.Mu.Unlock()
	if rec.count(protocol.EventBotNotification) < 2 {
		t.Errorf("bot notifications = %d", rec.count(protocol.EventBotNotification))
	}
}

func TestDelegateCriticalBouncesBack(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{floats: []float64{0.5}}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, true, false)

	sess.Mu.Lock()
	sess.Agents[0].Trust = 1.0
	sess.Agents[0].Status = protocol.AgentOnline
	agentID := sess.Agents[0].ID
	sess.Mu.Unlock()

	if err := e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := e.Delegate("p1", tk.ID, agentID); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	waitFor(t, "critical bounce", func() bool {
		status, assignee, _ := ticketState(sess, tk.ID)
		return status == protocol.TicketNotAssigned && assignee == protocol.AssigneeNone
	})
	sess.Mu.Lock()
	if tk.DeadlineSolve != nil {
		t.Error("solve deadline survived the bounce")
	}
	sess.Mu.Unlock()
}

func TestDelegateToOfflineAgent(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	sess.Mu.Lock()
	sess.Agents[0].Status = protocol.AgentOffline
	agentID := sess.Agents[0].ID
	sess.Mu.Unlock()

	if err := e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := e.Delegate("p1", tk.ID, agentID); err == nil {
		t.Fatal("delegated to an offline colleague")
	}
	if rec.count(protocol.EventBotNotification) != 1 {
		t.Errorf("bot notifications = %d", rec.count(protocol.EventBotNotification))
	}
}

func TestDelegateWrongTrack(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityEven)
	tk := spawn(e, sess, false, false)

	if err := e.Delegate("p1", tk.ID, "bot1"); err == nil {
		t.Error("delegation allowed on the AI track")
	}
}

func TestRosterTickToggles(t *testing.T) {
	// leave draw passes for online agents, return draw fails for away.
	rng := &scriptRand{floats: []float64{0.01}}
	e, rec, _ := newTestEngine(t, rng, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)

	sess.Mu.Lock()
	for i := range sess.Agents {
		sess.Agents[i].Status = protocol.AgentOffline
	}
	sess.Agents[0].Status = protocol.AgentOnline
	sess.Mu.Unlock()

	e.rosterTick(sess)

	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	if sess.Agents[0].Status != protocol.AgentAway {
		t.Errorf("agent status = %q", sess.Agents[0].Status)
	}
	for _, a := range sess.Agents[1:] {
		if a.Status != protocol.AgentOffline {
			t.Errorf("offline agent toggled to %q", a.Status)
		}
	}
	if rec.count(protocol.EventAgentsUpdate) != 1 {
		t.Errorf("agents:update events = %d", rec.count(protocol.EventAgentsUpdate))
	}
}

// --- Stage transitions and teardown ---

func TestCompleteTutorial(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	if _, err := e.Join("c1", "p1", protocol.ParityOdd); err != nil {
		t.Fatalf("join: %v", err)
	}
	sess, _ := e.reg.Get("p1")
	spawn(e, sess, false, true)
	spawn(e, sess, false, true)

	if err := e.CompleteTutorial("p1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	sess.Mu.Lock()
	stage, tickets := sess.Stage, len(sess.Tickets)
	started := !sess.StageStart.IsZero()
	sess.Mu.Unlock()

	if stage != protocol.StageShift {
		t.Errorf("stage = %d", stage)
	}
	if tickets != 0 {
		t.Errorf("tutorial tickets survived: %d", tickets)
	}
	if !started {
		t.Error("shift clock not started")
	}
	if rec.count(protocol.EventInit) == 0 {
		t.Error("no snapshot broadcast")
	}
	sess.Timers.StopAll()
}

func TestStartShiftRosterDraw(t *testing.T) {
	rng := &scriptRand{ints: []int{2}} // three agents online
	e, _, _ := newTestEngine(t, rng, testTuning())
	if _, err := e.Join("c1", "p1", protocol.ParityOdd); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := e.StartStage("p1", protocol.StageShift); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess, _ := e.reg.Get("p1")
	defer sess.Timers.StopAll()

	sess.Mu.Lock()
	online := 0
	for _, a := range sess.Agents {
		if a.Status == protocol.AgentOnline {
			online++
		}
	}
	sess.Mu.Unlock()
	if online != 3 {
		t.Errorf("online agents = %d", online)
	}
	if !sess.Timers.Running(session.TimerRoster) {
		t.Error("roster toggler not armed for colleague track")
	}
}

func TestStartShiftAITrackWorksAlone(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	if _, err := e.Join("c1", "p1", protocol.ParityEven); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := e.StartStage("p1", protocol.StageShift); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess, _ := e.reg.Get("p1")
	defer sess.Timers.StopAll()

	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	for _, a := range sess.Agents {
		if a.Status != protocol.AgentOffline {
			t.Errorf("agent %s is %q on the AI track", a.ID, a.Status)
		}
	}
	if sess.Timers.Running(session.TimerRoster) {
		t.Error("roster toggler armed on the AI track")
	}
}

func TestLeaveStopsTimersKeepsState(t *testing.T) {
	e, rec, _ := newTestEngine(t, &scriptRand{}, testTuning())
	if _, err := e.Join("c1", "p1", protocol.ParityOdd); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := e.StartStage("p1", protocol.StageShift); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess, _ := e.reg.Get("p1")
	spawn(e, sess, false, false)

	if sess.Timers.Count() == 0 {
		t.Fatal("no timers armed")
	}
	e.Leave("c1")
	if sess.Timers.Count() != 0 {
		t.Errorf("timers after leave = %d", sess.Timers.Count())
	}

	// With timers stopped and no connections, the event stream is quiet.
	before := rec.total()
	time.Sleep(100 * time.Millisecond)
	if rec.total() != before {
		t.Error("events kept flowing after last disconnect")
	}

	// The state survives for a reconnect.
	if _, err := e.Join("c2", "p1", protocol.ParityOdd); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	sess.Mu.Lock()
	tickets := len(sess.Tickets)
	sess.Mu.Unlock()
	if tickets != 1 {
		t.Errorf("tickets after rejoin = %d", tickets)
	}
	if sess.Timers.Count() == 0 {
		t.Error("shift timers not rearmed on rejoin")
	}
	sess.Timers.StopAll()
}

func TestResetParticipant(t *testing.T) {
	e, _, aud := newTestEngine(t, &scriptRand{}, testTuning())
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	spawn(e, sess, false, false)

	if err := e.ResetParticipant("p1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok := e.reg.Get("p1"); ok {
		t.Error("session survived reset")
	}
	if !aud.has("participant_reset") {
		t.Error("reset not audited")
	}
	if err := e.ResetParticipant("p1"); err == nil {
		t.Error("second reset reported success")
	}
}

func TestResetFencesAIContinuation(t *testing.T) {
	// A reset deactivates the session for good; a pending AI attempt or
	// client reply scheduled before it must die, not mutate the orphan.
	rng := &scriptRand{floats: []float64{0.99}}
	tun := testTuning()
	tun.AI.SolveNormal = tuning.Range{MinMs: 60_000, MaxMs: 60_000}
	e, rec, _ := newTestEngine(t, rng, tun)
	sess := startShift(t, e, "p1", protocol.ParityEven)
	sess.Mu.Lock()
	sess.AIMode = protocol.AIModeAutonomous
	sess.Mu.Unlock()
	tk := spawn(e, sess, false, false)

	waitFor(t, "ai take", func() bool {
		status, assignee, _ := ticketState(sess, tk.ID)
		return status == protocol.TicketInProgress && assignee == protocol.AssigneeAI
	})
	if err := e.ResetParticipant("p1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	before := rec.total()
	e.aiAttempt(sess, tk.ID)
	e.clientThanks(sess, tk.ID, protocol.AssigneeAI)

	if status, _, author := ticketState(sess, tk.ID); status != protocol.TicketInProgress || author != "" {
		t.Errorf("orphan ticket mutated after reset: %s by %q", status, author)
	}
	if rec.total() != before {
		t.Errorf("%d events broadcast after reset", rec.total()-before)
	}
}

func TestResetFencesDelegateContinuation(t *testing.T) {
	tun := testTuning()
	tun.Delegate.SolveNormal = tuning.Range{MinMs: 60_000, MaxMs: 60_000}
	e, rec, _ := newTestEngine(t, &scriptRand{floats: []float64{0.5}}, tun)
	sess := startShift(t, e, "p1", protocol.ParityOdd)
	tk := spawn(e, sess, false, false)

	sess.Mu.Lock()
	sess.Agents[0].Trust = 1.0
	sess.Agents[0].Status = protocol.AgentOnline
	agentID := sess.Agents[0].ID
	sess.Mu.Unlock()

	if err := e.SetTicketStatus("p1", tk.ID, protocol.TicketInProgress); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := e.Delegate("p1", tk.ID, agentID); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if err := e.ResetParticipant("p1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	before := rec.total()
	e.delegateAttempt(sess, tk.ID, agentID)

	if status, assignee, _ := ticketState(sess, tk.ID); status != protocol.TicketInProgress || assignee != agentID {
		t.Errorf("orphan ticket mutated after reset: %s/%s", status, assignee)
	}
	if rec.total() != before {
		t.Errorf("%d events broadcast after reset", rec.total()-before)
	}
}

func TestJoinSnapshot(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptRand{}, testTuning())
	snap, err := e.Join("c1", "p1", protocol.ParityEven)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if snap.Stage != protocol.StageTutorial {
		t.Errorf("stage = %d", snap.Stage)
	}
	if snap.Parity != protocol.ParityEven {
		t.Errorf("parity = %q", snap.Parity)
	}
	if len(snap.KBArticles) != 5 {
		t.Errorf("kb articles = %d", len(snap.KBArticles))
	}
	if len(snap.Agents) != 5 {
		t.Errorf("agents = %d", len(snap.Agents))
	}
}
