package sim

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the engine's randomness source. The production engine uses a
// locked math/rand source; tests substitute a scripted one.
type Rand interface {
	// Float64 returns a value in [0,1).
	Float64() float64
	// Intn returns a value in [0,n).
	Intn(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand returns a time-seeded Rand safe for concurrent use.
func NewRand() Rand {
	return &lockedRand{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

// chance draws an event with probability p in [0,1].
func (e *Engine) chance(p float64) bool {
	return e.rng.Float64() < p
}

// percent draws an event with probability pct in [0,100].
func (e *Engine) percent(pct int) bool {
	return e.rng.Float64()*100 < float64(pct)
}

// between draws a uniform duration in [r.MinMs, r.MaxMs] milliseconds.
func (e *Engine) between(min, max int) time.Duration {
	if max <= min {
		return time.Duration(min) * time.Millisecond
	}
	return time.Duration(min+e.rng.Intn(max-min+1)) * time.Millisecond
}
