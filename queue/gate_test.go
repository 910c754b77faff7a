package queue_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func cfg(name string, concurrency int) queue.Config {
	return queue.Config{Name: name, Concurrency: concurrency, DefaultJobOptions: job.DefaultOptions()}
}

func TestGate_Concurrency(t *testing.T) {
	g := queue.NewGate()
	c := cfg("emails", 2)

	for i := 0; i < 2; i++ {
		if d := g.Acquire(c, t0); !d.Granted {
			t.Fatalf("Acquire %d denied: %s", i, d.Denial)
		}
	}
	if d := g.Acquire(c, t0); d.Granted || d.Denial != queue.DeniedConcurrency {
		t.Fatalf("third Acquire = %+v, want concurrency denial", d)
	}
	g.Release("emails")
	if d := g.Acquire(c, t0); !d.Granted {
		t.Fatal("Acquire after Release denied")
	}
	if got := g.Active("emails"); got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}
}

func TestGate_ConcurrencyChangeAppliesToNewAcquires(t *testing.T) {
	g := queue.NewGate()
	_ = g.Acquire(cfg("q", 1), t0)
	if d := g.Acquire(cfg("q", 1), t0); d.Granted {
		t.Fatal("expected denial at concurrency 1")
	}
	if d := g.Acquire(cfg("q", 3), t0); !d.Granted {
		t.Fatal("expected grant after raising concurrency")
	}
}

func TestGate_RateLimit(t *testing.T) {
	g := queue.NewGate()
	c := cfg("api", 10)
	c.RateLimit = &queue.RateLimit{MaxOps: 2, Window: time.Second}

	for i := 0; i < 2; i++ {
		if d := g.Acquire(c, t0); !d.Granted {
			t.Fatalf("Acquire %d denied: %s", i, d.Denial)
		}
	}
	d := g.Acquire(c, t0)
	if d.Granted || d.Denial != queue.DeniedRateLimit {
		t.Fatalf("third Acquire = %+v, want rate limit denial", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Errorf("RetryAfter = %v, want within (0, 1s]", d.RetryAfter)
	}
	if got := g.Active("api"); got != 2 {
		t.Errorf("rate denial changed active count to %d", got)
	}
	if d := g.Acquire(c, t0.Add(600*time.Millisecond)); !d.Granted {
		t.Errorf("Acquire after refill denied: %+v", d)
	}
}

func TestGate_RateTokenNotSpentWithoutSlot(t *testing.T) {
	g := queue.NewGate()
	c := cfg("api", 1)
	c.RateLimit = &queue.RateLimit{MaxOps: 2, Window: time.Hour}

	_ = g.Acquire(c, t0)
	for i := 0; i < 5; i++ {
		if d := g.Acquire(c, t0); d.Denial != queue.DeniedConcurrency {
			t.Fatalf("Acquire = %+v, want concurrency denial", d)
		}
	}
	g.Release("api")
	if d := g.Acquire(c, t0); !d.Granted {
		t.Fatalf("second token should still be available: %+v", d)
	}
}

func TestGate_Pause(t *testing.T) {
	g := queue.NewGate()
	c := cfg("q", 5)
	g.PauseUntil("q", t0.Add(10*time.Second))
	g.PauseUntil("q", t0.Add(time.Second))

	d := g.Acquire(c, t0)
	if d.Granted || d.Denial != queue.DeniedPaused || d.RetryAfter != 10*time.Second {
		t.Fatalf("Acquire while paused = %+v", d)
	}
	if !g.PausedUntil("q").Equal(t0.Add(10 * time.Second)) {
		t.Errorf("PausedUntil = %v", g.PausedUntil("q"))
	}
	if d := g.Acquire(c, t0.Add(10*time.Second)); !d.Granted {
		t.Errorf("Acquire after pause denied: %+v", d)
	}
	if d := g.Acquire(cfg("other", 1), t0); !d.Granted {
		t.Error("pause leaked into another queue")
	}
}

func TestGate_ConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	g := queue.NewGate()
	c := cfg("q", 3)
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire(c, t0).Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	if granted.Load() != 3 {
		t.Errorf("granted = %d, want 3", granted.Load())
	}
}

func TestGate_ReleaseUnknownQueue(t *testing.T) {
	g := queue.NewGate()
	g.Release("nope")
	if g.Active("nope") != 0 {
		t.Error("Active on unknown queue should be 0")
	}
}
