package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Denial says why Acquire refused a slot.
type Denial string

const (
	DeniedNone        Denial = ""
	DeniedPaused      Denial = "paused"
	DeniedConcurrency Denial = "concurrency"
	DeniedRateLimit   Denial = "rate_limit"
)

// Decision is the result of Gate.Acquire.
type Decision struct {
	// Granted is true when the caller now holds a slot and must Release it.
	Granted bool
	// Denial is set when Granted is false.
	Denial Denial
	// RetryAfter estimates when a retry could succeed. Zero when unknown,
	// as for concurrency denials, which clear on Release.
	RetryAfter time.Duration
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	active      int
	pausedUntil time.Time
	limiter     *rate.Limiter
	limit       RateLimit
}

// Gate enforces concurrency, rate limits, and pauses per queue. It never
// caches configs; callers pass the current one into every Acquire. It is
// safe for concurrent use.
type Gate struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewGate returns an empty Gate.
func NewGate() *Gate {
	return &Gate{queues: make(map[string]*queueState)}
}

func (g *Gate) state(name string) *queueState {
	qs := g.queues[name]
	if qs == nil {
		qs = &queueState{}
		g.queues[name] = qs
	}
	return qs
}

// Acquire tries to take a dispatch slot on cfg's queue at now. The checks
// run in order pause, concurrency, rate limit, so a rate token is only
// spent when a slot is available.
func (g *Gate) Acquire(cfg Config, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	qs := g.state(cfg.Name)
	if now.Before(qs.pausedUntil) {
		return Decision{Denial: DeniedPaused, RetryAfter: qs.pausedUntil.Sub(now)}
	}
	if qs.active >= cfg.Concurrency {
		return Decision{Denial: DeniedConcurrency}
	}
	if lim := qs.limiterFor(cfg.RateLimit); lim != nil {
		r := lim.ReserveN(now, 1)
		if !r.OK() {
			return Decision{Denial: DeniedRateLimit}
		}
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			return Decision{Denial: DeniedRateLimit, RetryAfter: d}
		}
	}
	qs.active++
	return Decision{Granted: true}
}

// limiterFor returns the limiter for rl, rebuilding it when the limit changed.
func (qs *queueState) limiterFor(rl *RateLimit) *rate.Limiter {
	if rl == nil {
		qs.limiter = nil
		qs.limit = RateLimit{}
		return nil
	}
	if qs.limiter == nil || qs.limit != *rl {
		every := rl.Window / time.Duration(rl.MaxOps)
		qs.limiter = rate.NewLimiter(rate.Every(every), rl.MaxOps)
		qs.limit = *rl
	}
	return qs.limiter
}

// Release frees a slot taken by a granted Acquire.
func (g *Gate) Release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if qs := g.queues[name]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// PauseUntil stops granting slots on the queue until t. An earlier t than
// an existing pause does not shorten it.
func (g *Gate) PauseUntil(name string, t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	qs := g.state(name)
	if t.After(qs.pausedUntil) {
		qs.pausedUntil = t
	}
}

// PausedUntil returns the end of the current pause, or the zero time.
func (g *Gate) PausedUntil(name string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if qs := g.queues[name]; qs != nil {
		return qs.pausedUntil
	}
	return time.Time{}
}

// Active returns the number of held slots on the queue.
func (g *Gate) Active(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if qs := g.queues[name]; qs != nil {
		return qs.active
	}
	return 0
}
