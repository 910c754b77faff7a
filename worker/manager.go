package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/clock"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/queue"
)

// Manager dispatches jobs from the store to processors, one pool per queue.
type Manager struct {
	jobs       job.Store
	queues     queue.Store
	processors *job.Registry
	gate       *queue.Gate
	extensions *ext.Registry
	alerts     alert.Sender
	clock      clock.Clock
	logger     *slog.Logger
	mw         middleware.Middleware
	cfg        conveyor.Config
	workerID   id.WorkerID

	stallCheckInterval time.Duration

	mu      sync.Mutex
	running bool
	stopped bool
	served  map[string]struct{}
	pools   map[string]*pool
	held    map[id.JobID]*heldJob

	loops       *errgroup.Group
	loopCtx     context.Context
	stopLoops   context.CancelFunc
	jobsCtx     context.Context
	cancelJobs  context.CancelFunc
	persistCtx  context.Context
	stopPersist context.CancelFunc
	inflight    sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the runtime configuration.
func WithConfig(cfg conveyor.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithQueues sets the queues whose pools start with Start.
func WithQueues(names ...string) Option {
	return func(m *Manager) { m.cfg.Queues = append(m.cfg.Queues, names...) }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Manager) { m.extensions = r }
}

// WithMiddleware sets the middleware every processor call runs through.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(m *Manager) { m.mw = middleware.Chain(mws...) }
}

// WithAlerts sets where critical alerts go.
func WithAlerts(s alert.Sender) Option {
	return func(m *Manager) { m.alerts = s }
}

// WithPollInterval sets how long an idle pool sleeps.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.cfg.PollInterval = d }
}

// WithHeartbeatInterval sets the heartbeat period. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.cfg.HeartbeatInterval = d }
}

// WithStallThreshold sets how old a heartbeat may get before the job is
// considered stalled. Zero disables detection of remote stalls.
func WithStallThreshold(d time.Duration) Option {
	return func(m *Manager) { m.cfg.StallThreshold = d }
}

// WithCancelGrace sets how long a canceled or timed-out processor may keep
// running before its job is force-failed.
func WithCancelGrace(d time.Duration) Option {
	return func(m *Manager) { m.cfg.CancelGrace = d }
}

// WithStallCheckInterval sets the maintenance period. It defaults to half
// the stall threshold, or the poll interval when stall detection is off.
func WithStallCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.stallCheckInterval = d }
}

// New returns a Manager over the given stores and processors.
func New(jobs job.Store, queues queue.Store, processors *job.Registry, opts ...Option) *Manager {
	m := &Manager{
		jobs:       jobs,
		queues:     queues,
		processors: processors,
		gate:       queue.NewGate(),
		clock:      clock.System{},
		logger:     slog.Default(),
		mw:         middleware.Chain(),
		cfg:        conveyor.DefaultConfig(),
		workerID:   id.NewWorkerID(),
		served:     make(map[string]struct{}),
		pools:      make(map[string]*pool),
		held:       make(map[id.JobID]*heldJob),
	}
	m.persistCtx, m.stopPersist = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	if m.extensions == nil {
		m.extensions = ext.NewRegistry(m.logger)
	}
	if m.alerts == nil {
		m.alerts = alert.NewLogSender(m.logger)
	}
	if m.cfg.PollInterval <= 0 {
		m.cfg.PollInterval = time.Second
	}
	if m.stallCheckInterval <= 0 {
		if m.cfg.StallThreshold > 0 {
			m.stallCheckInterval = m.cfg.StallThreshold / 2
		} else {
			m.stallCheckInterval = m.cfg.PollInterval
		}
	}
	for _, q := range m.cfg.Queues {
		m.served[q] = struct{}{}
	}
	return m
}

// WorkerID identifies this manager as the holder of the jobs it runs.
func (m *Manager) WorkerID() id.WorkerID { return m.workerID }

// Gate exposes the queue gate for inspection.
func (m *Manager) Gate() *queue.Gate { return m.gate }

// Start launches the pools of the configured queues and the heartbeat and
// maintenance loops. It returns immediately.
func (m *Manager) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return conveyor.ErrManagerStopped
	}
	if m.running {
		return nil
	}
	m.running = true

	m.loopCtx, m.stopLoops = context.WithCancel(context.Background())
	m.jobsCtx, m.cancelJobs = context.WithCancel(context.Background())
	m.loops = &errgroup.Group{}

	queues := make([]string, 0, len(m.served))
	for q := range m.served {
		queues = append(queues, q)
		m.startPoolLocked(q)
	}

	if m.cfg.HeartbeatInterval > 0 {
		m.loops.Go(func() error {
			m.tick(m.cfg.HeartbeatInterval, m.sendHeartbeats)
			return nil
		})
	}
	m.loops.Go(func() error {
		m.tick(m.stallCheckInterval, m.maintain)
		return nil
	})

	m.logger.Info("queue manager starting",
		slog.String("worker_id", m.workerID.String()),
		slog.Any("queues", queues),
	)
	return nil
}

func (m *Manager) startPoolLocked(name string) *pool {
	if p := m.pools[name]; p != nil {
		return p
	}
	p := newPool(m, name)
	m.pools[name] = p
	m.loops.Go(func() error {
		p.run(m.loopCtx)
		return nil
	})
	return p
}

// Stop stops dispatching and waits for in-flight jobs. When ctx expires
// first, pending store retries are abandoned and the remaining jobs are
// canceled and given CancelGrace to return; jobs still running after that
// are requeued without counting an attempt.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("queue manager stopping", slog.String("worker_id", m.workerID.String()))

	// Store retries hold the job lock that the loops also take.
	unwatch := context.AfterFunc(ctx, m.stopPersist)
	defer unwatch()

	m.stopLoops()
	_ = m.loops.Wait()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("queue manager stopped gracefully")
	case <-ctx.Done():
		m.logger.Warn("queue manager shutdown timed out, cancelling active jobs")
		for _, h := range m.heldJobs() {
			h.requestShutdown()
		}
		select {
		case <-done:
		case <-time.After(m.cfg.CancelGrace):
			m.abandonHeld(ctx)
		}
	}

	flushCtx, cancel := m.graceContext(ctx)
	m.flushPending(flushCtx)
	cancel()
	m.dropPending()

	m.stopPersist()
	m.cancelJobs()
	m.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return nil
}

// graceContext outlives parent by at most CancelGrace.
func (m *Manager) graceContext(parent context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(parent)
	if m.cfg.CancelGrace <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, m.cfg.CancelGrace)
}

// abandonHeld requeues jobs whose processors ignored shutdown.
func (m *Manager) abandonHeld(parent context.Context) {
	ctx, cancel := m.graceContext(parent)
	defer cancel()

	for _, h := range m.heldJobs() {
		h.mu.Lock()
		if h.done {
			h.mu.Unlock()
			continue
		}
		cur := h.job.Clone()
		now := m.clock.Now()
		err := cur.Requeue(now, now)
		if err == nil {
			err = m.persist(ctx, cur, job.StatusActive)
		}
		h.done = true
		h.mu.Unlock()
		h.releaseSlot()

		if err != nil {
			m.logger.Error("failed to requeue abandoned job",
				slog.String("job_id", cur.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.Warn("requeued job still running at shutdown",
			slog.String("job_id", cur.ID.String()),
			slog.String("job_name", cur.Name),
		)
	}
}

// Enqueue makes a scheduled job known to the queue's pool. The job is
// persisted first when the store does not have it yet.
func (m *Manager) Enqueue(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return conveyor.ErrManagerStopped
	}

	if _, err := m.queues.FindByName(ctx, j.Queue); err != nil {
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}

	_, err := m.jobs.GetJob(ctx, j.ID)
	switch {
	case errors.Is(err, conveyor.ErrJobNotFound):
		if err := m.jobs.CreateJob(ctx, j); err != nil {
			return fmt.Errorf("enqueue job %s: %w", j.ID, err)
		}
	case err != nil:
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}

	m.extensions.EmitJobEnqueued(ctx, j)
	m.wake(j.Queue)
	return nil
}

// wake nudges the queue's pool, starting it when the manager is running
// and the queue was not served yet.
func (m *Manager) wake(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.served[name] = struct{}{}
	if !m.running {
		return
	}
	m.startPoolLocked(name).notify()
}

// Cancel cancels a job. Jobs not yet running end FAILED immediately. A job
// held by this manager has its context canceled and ends FAILED once the
// processor returns, or when CancelGrace runs out.
func (m *Manager) Cancel(ctx context.Context, jobID id.JobID) error {
	m.mu.Lock()
	h := m.held[jobID]
	m.mu.Unlock()
	if h != nil {
		h.requestCancel(m.clock.Now())
		return nil
	}

	j, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status == job.StatusActive {
		return fmt.Errorf("cancel job %s: %w", jobID, conveyor.ErrJobNotHeld)
	}

	prev := j.Status
	if err := j.Cancel(m.clock.Now()); err != nil {
		return err
	}
	if err := m.jobs.Transition(ctx, j, prev); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	m.logger.Info("job canceled", slog.String("job_id", jobID.String()))
	m.extensions.EmitJobFailed(ctx, j, context.Canceled)
	m.wakeParents(ctx, j.ID)
	return nil
}

// QueueStats is a point-in-time view of one queue in this manager.
type QueueStats struct {
	Queue       string
	Active      int
	PausedUntil time.Time
}

// Stats reports the queue's active slot count and pause.
func (m *Manager) Stats(name string) QueueStats {
	return QueueStats{
		Queue:       name,
		Active:      m.gate.Active(name),
		PausedUntil: m.gate.PausedUntil(name),
	}
}

func (m *Manager) heldJobs() []*heldJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*heldJob, 0, len(m.held))
	for _, h := range m.held {
		out = append(out, h)
	}
	return out
}

func (m *Manager) isHeld(jobID id.JobID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[jobID]
	return ok
}

// tick runs fn every d until the loops stop.
func (m *Manager) tick(d time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-m.loopCtx.Done():
			return
		case <-ticker.C:
			fn(m.loopCtx)
		}
	}
}

// persist writes j if the stored job is still at from. Transient store
// errors are retried with exponential backoff until ctx ends; conflicts and
// missing jobs are returned at once.
func (m *Manager) persist(ctx context.Context, j *job.Job, from job.Status) error {
	policy := backoff.ExponentialPolicy(m.cfg.PersistBackoff, 0)
	for attempt := 1; ; attempt++ {
		err := m.jobs.Transition(ctx, j, from)
		if err == nil || errors.Is(err, conveyor.ErrStatusConflict) || errors.Is(err, conveyor.ErrJobNotFound) {
			return err
		}
		if attempt > m.cfg.PersistRetries {
			return fmt.Errorf("persist job %s after %d retries: %w", j.ID, attempt-1, err)
		}
		m.logger.Warn("retrying job persistence",
			slog.String("job_id", j.ID.String()),
			slog.Int("retry", attempt),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("persist job %s: %w", j.ID, errors.Join(err, ctx.Err()))
		case <-timer.C:
		}
	}
}
