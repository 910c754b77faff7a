package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/job"
)

// entry pairs a hook with the extension name captured at registration so
// emit methods never type-assert back to Extension.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Hooks are type-cached at registration so an emit iterates only
// over extensions implementing it. Register all extensions before the
// queue manager starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued     []entry[JobEnqueued]
	jobActive       []entry[JobActive]
	jobProgress     []entry[JobProgress]
	jobCompleted    []entry[JobCompleted]
	jobFailed       []entry[JobFailed]
	jobRetrying     []entry[JobRetrying]
	jobDeadLettered []entry[JobDeadLettered]
	jobSuspended    []entry[JobSuspended]
	jobStalled      []entry[JobStalled]
	queuePaused     []entry[QueuePaused]
	shutdown        []entry[Shutdown]
}

// NewRegistry creates an extension registry. A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

func add[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: name, hook: h})
	}
	return list
}

// Register adds an extension to every hook cache it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.jobEnqueued = add(r.jobEnqueued, name, e)
	r.jobActive = add(r.jobActive, name, e)
	r.jobProgress = add(r.jobProgress, name, e)
	r.jobCompleted = add(r.jobCompleted, name, e)
	r.jobFailed = add(r.jobFailed, name, e)
	r.jobRetrying = add(r.jobRetrying, name, e)
	r.jobDeadLettered = add(r.jobDeadLettered, name, e)
	r.jobSuspended = add(r.jobSuspended, name, e)
	r.jobStalled = add(r.jobStalled, name, e)
	r.queuePaused = add(r.queuePaused, name, e)
	r.shutdown = add(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

func emit[H any](r *Registry, hookName string, list []entry[H], call func(H) error) {
	for _, e := range list {
		if err := call(e.hook); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", hookName),
				slog.String("extension", e.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	emit(r, "OnJobEnqueued", r.jobEnqueued, func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, j) })
}

// EmitJobActive notifies all extensions that implement JobActive.
func (r *Registry) EmitJobActive(ctx context.Context, j *job.Job) {
	emit(r, "OnJobActive", r.jobActive, func(h JobActive) error { return h.OnJobActive(ctx, j) })
}

// EmitJobProgress notifies all extensions that implement JobProgress.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, progress int) {
	emit(r, "OnJobProgress", r.jobProgress, func(h JobProgress) error { return h.OnJobProgress(ctx, j, progress) })
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	emit(r, "OnJobCompleted", r.jobCompleted, func(h JobCompleted) error { return h.OnJobCompleted(ctx, j, elapsed) })
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	emit(r, "OnJobFailed", r.jobFailed, func(h JobFailed) error { return h.OnJobFailed(ctx, j, jobErr) })
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	emit(r, "OnJobRetrying", r.jobRetrying, func(h JobRetrying) error { return h.OnJobRetrying(ctx, j, attempt, nextRunAt) })
}

// EmitJobDeadLettered notifies all extensions that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job, reason string) {
	emit(r, "OnJobDeadLettered", r.jobDeadLettered, func(h JobDeadLettered) error { return h.OnJobDeadLettered(ctx, j, reason) })
}

// EmitJobSuspended notifies all extensions that implement JobSuspended.
func (r *Registry) EmitJobSuspended(ctx context.Context, j *job.Job) {
	emit(r, "OnJobSuspended", r.jobSuspended, func(h JobSuspended) error { return h.OnJobSuspended(ctx, j) })
}

// EmitJobStalled notifies all extensions that implement JobStalled.
func (r *Registry) EmitJobStalled(ctx context.Context, j *job.Job) {
	emit(r, "OnJobStalled", r.jobStalled, func(h JobStalled) error { return h.OnJobStalled(ctx, j) })
}

// EmitQueuePaused notifies all extensions that implement QueuePaused.
func (r *Registry) EmitQueuePaused(ctx context.Context, queue string, until time.Time) {
	emit(r, "OnQueuePaused", r.queuePaused, func(h QueuePaused) error { return h.OnQueuePaused(ctx, queue, until) })
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error { return h.OnShutdown(ctx) })
}
