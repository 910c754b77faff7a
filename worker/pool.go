package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
)

// pool runs the dispatch loop of one queue.
type pool struct {
	m     *Manager
	queue string
	wake  chan struct{}
}

func newPool(m *Manager, name string) *pool {
	return &pool{m: m, queue: name, wake: make(chan struct{}, 1)}
}

// notify wakes the dispatch loop without blocking.
func (p *pool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pool) run(ctx context.Context) {
	for {
		wait := p.dispatch(ctx)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dispatch launches ready jobs until none is ready or the gate refuses,
// and returns how long to sleep before the next round.
func (p *pool) dispatch(ctx context.Context) time.Duration {
	idle := p.m.cfg.PollInterval
	for ctx.Err() == nil {
		cfg, err := p.m.queues.FindByName(ctx, p.queue)
		if err != nil {
			p.m.logger.Error("queue config lookup failed",
				slog.String("queue", p.queue),
				slog.String("error", err.Error()),
			)
			return idle
		}
		if cfg.Disabled {
			return idle
		}

		now := p.m.clock.Now()
		ready, err := p.m.jobs.FindReady(ctx, p.queue, now, cfg.Concurrency)
		if err != nil {
			p.m.logger.Error("find ready jobs failed",
				slog.String("queue", p.queue),
				slog.String("error", err.Error()),
			)
			return idle
		}
		if len(ready) == 0 {
			return idle
		}

		dec := p.m.gate.Acquire(*cfg, now)
		if !dec.Granted {
			if dec.RetryAfter > 0 && dec.RetryAfter < idle {
				return dec.RetryAfter
			}
			return idle
		}

		claimed, err := p.claim(ctx, ready, now)
		if err != nil {
			p.m.gate.Release(p.queue)
			p.m.logger.Error("claim job failed",
				slog.String("queue", p.queue),
				slog.String("error", err.Error()),
			)
			return idle
		}
		if claimed == nil {
			// Every candidate was taken by another worker; peek again.
			p.m.gate.Release(p.queue)
			continue
		}
		p.m.launch(p, claimed, *cfg)
	}
	return idle
}

// claim moves the first candidate that nobody else took to ACTIVE. It
// returns nil when all candidates conflicted.
func (p *pool) claim(ctx context.Context, candidates []*job.Job, now time.Time) (*job.Job, error) {
	for _, c := range candidates {
		prev := c.Status
		if err := c.MarkActive(now); err != nil {
			continue
		}
		c.WorkerID = p.m.workerID
		err := p.m.jobs.Transition(ctx, c, prev)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, conveyor.ErrStatusConflict) {
			return nil, err
		}
	}
	return nil, nil
}

// launch runs a claimed job on its own goroutine.
func (m *Manager) launch(p *pool, j *job.Job, cfg queue.Config) {
	h := newHeldJob(m, p, j, cfg)

	m.mu.Lock()
	m.held[j.ID] = h
	m.mu.Unlock()

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer func() {
			if h.settled() {
				h.releaseSlot()
			}
		}()
		m.execute(h)
	}()
}
