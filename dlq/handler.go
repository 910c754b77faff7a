package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/clock"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Enqueuer hands a re-queued job to dispatch. *worker.Manager implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job) error
}

// Report summarizes one sweep.
type Report struct {
	// Escalated counts FAILED jobs moved to DEAD_LETTER.
	Escalated int
	// Handled counts new entries, keyed by the action taken.
	Handled map[Action]int
	// Errors counts jobs the sweep could not handle.
	Errors int
}

// Total is the number of new entries.
func (r Report) Total() int {
	n := 0
	for _, v := range r.Handled {
		n += v
	}
	return n
}

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Handler sweeps and acts on dead-lettered jobs.
type Handler struct {
	jobs     job.Store
	entries  Store
	enqueuer Enqueuer
	alerts   alert.Sender
	classify Classifier
	clock    clock.Clock
	logger   *slog.Logger

	queues          []string
	includeFailed   bool
	maxReplays      int
	priorityPenalty int
	schedule        string

	sweepMu sync.Mutex

	mu   sync.Mutex
	cron *cronlib.Cron
}

// Option configures a Handler.
type Option func(*Handler)

// WithConfig applies the dead letter fields of cfg.
func WithConfig(cfg conveyor.Config) Option {
	return func(h *Handler) {
		h.includeFailed = cfg.DLQIncludeFailed
		h.maxReplays = cfg.DLQMaxReplays
		if cfg.DLQSweepSchedule != "" {
			h.schedule = cfg.DLQSweepSchedule
		}
	}
}

// WithQueues limits sweeps to the named queues. By default every queue is
// swept.
func WithQueues(names ...string) Option {
	return func(h *Handler) { h.queues = append(h.queues, names...) }
}

// WithIncludeFailed makes sweeps escalate FAILED jobs to DEAD_LETTER.
// Canceled jobs are never escalated.
func WithIncludeFailed(on bool) Option {
	return func(h *Handler) { h.includeFailed = on }
}

// WithMaxReplays caps dead letter re-queues per job lineage.
func WithMaxReplays(n int) Option {
	return func(h *Handler) { h.maxReplays = n }
}

// WithPriorityPenalty sets how much lower a re-queued job's priority is.
func WithPriorityPenalty(n int) Option {
	return func(h *Handler) { h.priorityPenalty = n }
}

// WithSchedule sets the cron expression for sweeps.
func WithSchedule(expr string) Option {
	return func(h *Handler) { h.schedule = expr }
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c Classifier) Option {
	return func(h *Handler) { h.classify = c }
}

// WithAlerts sets where alerts go.
func WithAlerts(s alert.Sender) Option {
	return func(h *Handler) { h.alerts = s }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler returns a Handler. enqueuer may be nil, in which case
// re-queued jobs are only persisted.
func NewHandler(jobs job.Store, entries Store, enqueuer Enqueuer, opts ...Option) *Handler {
	h := &Handler{
		jobs:            jobs,
		entries:         entries,
		enqueuer:        enqueuer,
		classify:        DefaultClassifier,
		clock:           clock.System{},
		logger:          slog.Default(),
		maxReplays:      1,
		priorityPenalty: 1,
		schedule:        "@every 1m",
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.alerts == nil {
		h.alerts = alert.NewLogSender(h.logger)
	}
	return h
}

// ──────────────────────────────────────────────────
// Sweeping
// ──────────────────────────────────────────────────

// Sweep handles every dead-lettered job that has no entry yet. Concurrent
// calls are serialized.
func (h *Handler) Sweep(ctx context.Context) (Report, error) {
	h.sweepMu.Lock()
	defer h.sweepMu.Unlock()

	report := Report{Handled: make(map[Action]int)}
	queues := h.queues
	if len(queues) == 0 {
		queues = []string{""}
	}

	for _, q := range queues {
		if h.includeFailed {
			n, err := h.escalate(ctx, q)
			report.Escalated += n
			if err != nil {
				return report, err
			}
		}

		dead, err := h.jobs.ListJobs(ctx, job.ListOpts{Queue: q, Statuses: []job.Status{job.StatusDeadLetter}})
		if err != nil {
			return report, fmt.Errorf("list dead letter jobs: %w", err)
		}
		for _, j := range dead {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if j.DeadLetterHandledAt != nil {
				continue
			}
			_, err := h.entries.GetDLQByJob(ctx, j.ID)
			if err == nil {
				// Handled before the job carried a marker.
				if _, err := h.claim(ctx, j); err != nil {
					h.logger.Warn("mark dead letter job handled",
						slog.String("job_id", j.ID.String()),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			if !errors.Is(err, conveyor.ErrDLQNotFound) {
				report.Errors++
				h.logger.Error("dlq entry lookup failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}

			entry, err := h.handle(ctx, j)
			if err != nil {
				report.Errors++
				h.logger.Error("dlq handling failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if entry != nil {
				report.Handled[entry.Action]++
			}
		}
	}

	if total := report.Total(); total > 0 || report.Escalated > 0 {
		h.logger.Info("dlq sweep finished",
			slog.Int("escalated", report.Escalated),
			slog.Int("handled", total),
			slog.Int("errors", report.Errors),
		)
	}
	return report, nil
}

// escalate moves FAILED jobs of queue to DEAD_LETTER.
func (h *Handler) escalate(ctx context.Context, queue string) (int, error) {
	failed, err := h.jobs.ListJobs(ctx, job.ListOpts{Queue: queue, Statuses: []job.Status{job.StatusFailed}})
	if err != nil {
		return 0, fmt.Errorf("list failed jobs: %w", err)
	}
	n := 0
	for _, j := range failed {
		if j.FailureReason == job.CancelReason {
			continue
		}
		if err := j.MoveToDeadLetter(h.clock.Now(), j.FailureReason); err != nil {
			continue
		}
		if err := h.jobs.Transition(ctx, j, job.StatusFailed); err != nil {
			if !errors.Is(err, conveyor.ErrStatusConflict) {
				h.logger.Warn("escalate failed job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		n++
	}
	return n, nil
}

// claim marks a DEAD_LETTER job as handled. It reports false when another
// sweeper changed the job first.
func (h *Handler) claim(ctx context.Context, j *job.Job) (bool, error) {
	if err := j.MarkDeadLetterHandled(h.clock.Now()); err != nil {
		return false, err
	}
	if err := h.jobs.Transition(ctx, j, job.StatusDeadLetter); err != nil {
		if errors.Is(err, conveyor.ErrStatusConflict) {
			return false, nil
		}
		return false, fmt.Errorf("mark dead letter job handled: %w", err)
	}
	return true, nil
}

// unclaim clears the handled marker so a later sweep retries the job.
func (h *Handler) unclaim(ctx context.Context, j *job.Job) error {
	j.DeadLetterHandledAt = nil
	j.UpdatedAt = h.clock.Now()
	return h.jobs.Transition(ctx, j, job.StatusDeadLetter)
}

// handle classifies one job and records the entry. The job is marked
// handled before anything else, so each dead job gets at most one entry
// and one automatic re-queue even after its entry is purged. It returns a
// nil entry when another sweeper got the job first.
func (h *Handler) handle(ctx context.Context, j *job.Job) (*Entry, error) {
	j = j.Clone()
	ok, err := h.claim(ctx, j)
	if err != nil || !ok {
		return nil, err
	}

	now := h.clock.Now()
	class := h.classify(j)
	entry := NewEntry(j, class, now)
	md := map[string]string{
		"job_id":         j.ID.String(),
		"job_name":       j.Name,
		"queue":          j.Queue,
		"classification": string(class),
	}

	var replay *job.Job
	switch class {
	case ClassConfiguration:
		entry.Action = ActionAlerted
	case ClassExternal:
		if j.DeadLetterRetries < h.maxReplays {
			replay = h.replayJob(j, now)
			entry.Action = ActionRetried
			entry.ReplayJobID = replay.ID
		} else {
			entry.Action = ActionExhausted
		}
	case ClassCorruption:
		entry.Action = ActionQuarantined
		entry.Quarantined = true
	default:
		entry.Action = ActionLogged
	}

	if err := h.entries.PushDLQ(ctx, entry); err != nil {
		if errors.Is(err, conveyor.ErrDLQAlreadyExists) {
			return nil, nil
		}
		if uerr := h.unclaim(ctx, j); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return nil, fmt.Errorf("push dlq entry: %w", err)
	}

	switch entry.Action {
	case ActionAlerted:
		h.alert(ctx, alert.SeverityCritical, "job failed on a configuration error: "+j.FailureReason, md)
	case ActionRetried:
		if err := h.submit(ctx, replay); err != nil {
			entry.Action = ActionLogged
			entry.ReplayJobID = id.Nil
			entry.UpdatedAt = h.clock.Now()
			if uerr := h.entries.UpdateDLQ(ctx, entry); uerr != nil {
				err = errors.Join(err, uerr)
			}
			return nil, fmt.Errorf("re-queue job %s: %w", j.ID, err)
		}
		h.logger.Info("dead letter job re-queued",
			slog.String("job_id", j.ID.String()),
			slog.String("replay_job_id", replay.ID.String()),
			slog.Int("priority", replay.Options.Priority),
		)
	case ActionExhausted:
		h.alert(ctx, alert.SeverityWarning, "job exhausted its dead letter retry: "+j.FailureReason, md)
	case ActionQuarantined:
		h.alert(ctx, alert.SeverityWarning, "job quarantined for data corruption: "+j.FailureReason, md)
	default:
		h.logger.Warn("dead letter job with unclassified failure",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("reason", j.FailureReason),
		)
	}
	return entry, nil
}

// replayJob clones j into a new job with a fresh attempt budget.
func (h *Handler) replayJob(j *job.Job, now time.Time) *job.Job {
	opts := j.Options
	opts.Priority -= h.priorityPenalty
	opts.Delay = 0
	opts.ScheduledFor = time.Time{}

	r := job.New(j.Name, j.Queue, j.Payload, opts, now)
	r.DeadLetterRetries = j.DeadLetterRetries + 1
	r.ReplayOf = j.ID
	return r
}

func (h *Handler) submit(ctx context.Context, j *job.Job) error {
	if h.enqueuer != nil {
		return h.enqueuer.Enqueue(ctx, j)
	}
	return h.jobs.CreateJob(ctx, j)
}

func (h *Handler) alert(ctx context.Context, severity alert.Severity, msg string, md map[string]string) {
	if err := h.alerts.SendAlert(ctx, severity, msg, md); err != nil {
		h.logger.Warn("alert delivery failed",
			slog.String("job_id", md["job_id"]),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Operator actions
// ──────────────────────────────────────────────────

// Replay re-queues the job behind an entry. It returns
// conveyor.ErrReplayLimit when the entry was already re-queued or the
// job's lineage used up its re-queues.
func (h *Handler) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	h.sweepMu.Lock()
	defer h.sweepMu.Unlock()

	entry, err := h.entries.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !entry.ReplayJobID.IsNil() || entry.Replays >= h.maxReplays {
		return nil, fmt.Errorf("replay %s: %w", entryID, conveyor.ErrReplayLimit)
	}

	now := h.clock.Now()
	src, err := h.jobs.GetJob(ctx, entry.JobID)
	switch {
	case errors.Is(err, conveyor.ErrJobNotFound):
		src = job.New(entry.JobName, entry.Queue, entry.Payload, job.DefaultOptions(), now)
		src.ID = entry.JobID
		src.DeadLetterRetries = entry.Replays
	case err != nil:
		return nil, err
	}

	replay := h.replayJob(src, now)
	if err := h.submit(ctx, replay); err != nil {
		return nil, fmt.Errorf("replay %s: %w", entryID, err)
	}

	entry.Action = ActionReplayed
	entry.ReplayJobID = replay.ID
	entry.ReplayedAt = &now
	entry.UpdatedAt = now
	if err := h.entries.UpdateDLQ(ctx, entry); err != nil {
		return replay, fmt.Errorf("replay %s: record: %w", entryID, err)
	}

	h.logger.Info("dlq entry replayed",
		slog.String("entry_id", entryID.String()),
		slog.String("replay_job_id", replay.ID.String()),
	)
	return replay, nil
}

// Entry returns one entry.
func (h *Handler) Entry(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return h.entries.GetDLQ(ctx, entryID)
}

// Entries lists entries, newest first.
func (h *Handler) Entries(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return h.entries.ListDLQ(ctx, opts)
}

// Purge removes entries of jobs that failed before the given time. The
// dead jobs keep their handled marker and are not swept again.
func (h *Handler) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := h.entries.PurgeDLQ(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		h.logger.Info("dlq entries purged", slog.Int64("count", n), slog.Time("before", before))
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start schedules sweeps. It returns an error for an invalid schedule.
func (h *Handler) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cron != nil {
		return nil
	}

	c := cronlib.New(cronlib.WithParser(cronParser))
	if _, err := c.AddFunc(h.schedule, h.runSweep); err != nil {
		return fmt.Errorf("dlq: invalid sweep schedule %q: %w", h.schedule, err)
	}
	c.Start()
	h.cron = c

	h.logger.Info("dlq handler started", slog.String("schedule", h.schedule))
	return nil
}

func (h *Handler) runSweep() {
	if _, err := h.Sweep(context.Background()); err != nil {
		h.logger.Error("dlq sweep failed", slog.String("error", err.Error()))
	}
}

// Stop stops scheduling sweeps and waits for a running one, or for ctx.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	c := h.cron
	h.cron = nil
	h.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
