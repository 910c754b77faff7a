package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
)

// heldJob is a job this manager claimed. h.job is the last persisted copy;
// every write goes through a clone under mu and replaces it on success.
// pending is a final state the store refused with a transient error; the
// job stays held and heartbeating until flushPending writes it.
type heldJob struct {
	m     *Manager
	pool  *pool
	cfg   queue.Config
	jobID id.JobID

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	job      *job.Job
	deadline time.Time
	cancelAt time.Time
	pending  *job.Job
	done     bool
	lost     bool
	canceled bool
	shutdown bool

	release sync.Once
}

var _ job.Reporter = (*heldJob)(nil)

func newHeldJob(m *Manager, p *pool, j *job.Job, cfg queue.Config) *heldJob {
	h := &heldJob{m: m, pool: p, cfg: cfg, jobID: j.ID, job: j}
	t := j.Options.Timeout
	if t <= 0 {
		t = cfg.MaxRuntime
	}
	if t > 0 {
		h.deadline = j.ProcessedAt.Add(t)
		h.ctx, h.cancel = context.WithTimeout(m.jobsCtx, t)
	} else {
		h.ctx, h.cancel = context.WithCancel(m.jobsCtx)
	}
	return h
}

func (h *heldJob) snapshot() *job.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Clone()
}

// settled reports whether the processor returned and the outcome needs no
// more writes.
func (h *heldJob) settled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending == nil
}

// releaseSlot frees the gate slot and forgets the job. Safe to call more
// than once.
func (h *heldJob) releaseSlot() {
	h.release.Do(func() {
		h.cancel()
		h.m.gate.Release(h.cfg.Name)
		h.m.mu.Lock()
		delete(h.m.held, h.jobID)
		h.m.mu.Unlock()
		h.pool.notify()
	})
}

func (h *heldJob) requestCancel(now time.Time) {
	h.mu.Lock()
	if h.done || h.canceled {
		h.mu.Unlock()
		return
	}
	h.canceled = true
	h.cancelAt = now
	h.mu.Unlock()
	h.cancel()
}

func (h *heldJob) requestShutdown() {
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()
	h.cancel()
}

// markLost records that another actor took the job over.
func (h *heldJob) markLost() {
	h.mu.Lock()
	h.lost = true
	h.mu.Unlock()
	h.cancel()
}

// update applies fn to a clone of the job and persists it.
func (h *heldJob) update(fn func(j *job.Job, now time.Time) error) (*job.Job, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done || h.lost {
		return nil, fmt.Errorf("job %s: %w", h.jobID, conveyor.ErrJobNotHeld)
	}
	cur := h.job.Clone()
	if err := fn(cur, h.m.clock.Now()); err != nil {
		return nil, err
	}
	if err := h.m.persist(h.m.persistCtx, cur, job.StatusActive); err != nil {
		if errors.Is(err, conveyor.ErrStatusConflict) {
			h.lost = true
			h.cancel()
		}
		return nil, err
	}
	h.job = cur
	return cur.Clone(), nil
}

// ReportProgress implements job.Reporter.
func (h *heldJob) ReportProgress(ctx context.Context, p int) error {
	j, err := h.update(func(j *job.Job, now time.Time) error {
		return j.UpdateProgress(now, p)
	})
	if err != nil {
		return err
	}
	hookCtx := context.WithoutCancel(ctx)
	h.m.extensions.EmitJobProgress(hookCtx, j, p)
	if proc, ok := h.m.processors.Lookup(j.Name, j.Queue); ok {
		if hook, ok := proc.(job.ProgressHook); ok {
			hook.OnProgress(hookCtx, j, p)
		}
	}
	return nil
}

// SaveCheckpoint implements job.Reporter.
func (h *heldJob) SaveCheckpoint(_ context.Context, key string, value any) error {
	_, err := h.update(func(j *job.Job, now time.Time) error {
		return j.SetCheckpoint(now, key, value)
	})
	return err
}
