package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TimerKind names one of a session's periodic schedulers.
type TimerKind string

const (
	TimerStage   TimerKind = "stage"
	TimerSweep   TimerKind = "sweep"
	TimerSpawner TimerKind = "spawner"
	TimerRoster  TimerKind = "roster"
)

// TimerSet runs a session's periodic schedulers on one cron instance.
// Starting a kind that is already running is detected and ignored, and
// stopping is idempotent, so stage transitions and reconnects can never
// double-register a timer.
type TimerSet struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[TimerKind]cron.EntryID
}

// NewTimerSet creates an empty, stopped timer set.
func NewTimerSet() *TimerSet {
	return &TimerSet{
		cron:    cron.New(),
		entries: make(map[TimerKind]cron.EntryID),
	}
}

// Start schedules fn to run every interval under the given kind. It returns
// false without side effects when the kind is already scheduled.
func (ts *TimerSet) Start(kind TimerKind, every time.Duration, fn func()) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, running := ts.entries[kind]; running {
		return false
	}
	id, err := ts.cron.AddFunc(fmt.Sprintf("@every %s", every), fn)
	if err != nil {
		// "@every <duration>" only fails on a non-positive interval.
		return false
	}
	ts.entries[kind] = id
	ts.cron.Start()
	return true
}

// Stop removes one scheduler. Stopping a kind that is not running is a
// no-op.
func (ts *TimerSet) Stop(kind TimerKind) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if id, ok := ts.entries[kind]; ok {
		ts.cron.Remove(id)
		delete(ts.entries, kind)
	}
}

// StopAll cancels every scheduler. Safe to call repeatedly.
func (ts *TimerSet) StopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for kind, id := range ts.entries {
		ts.cron.Remove(id)
		delete(ts.entries, kind)
	}
	ts.cron.Stop()
}

// Running reports whether the given kind is scheduled.
func (ts *TimerSet) Running(kind TimerKind) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.entries[kind]
	return ok
}

// Count returns how many schedulers are live.
func (ts *TimerSet) Count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.entries)
}
