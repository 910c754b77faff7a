package ext

import (
	"context"
	"time"

	"github.com/xraph/conveyor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is handed to a queue manager.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobActive is called once a worker has claimed a job.
type JobActive interface {
	OnJobActive(ctx context.Context, j *job.Job) error
}

// JobProgress is called after a progress update is persisted.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, progress int) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job ends FAILED (budget exhausted or canceled).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when an attempt failed and the job will run again.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDeadLettered is called when a job moves to DEAD_LETTER.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, reason string) error
}

// JobSuspended is called when a job starts waiting on child jobs.
type JobSuspended interface {
	OnJobSuspended(ctx context.Context, j *job.Job) error
}

// JobStalled is called when the stall reaper force-fails a job.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Queue and manager hooks
// ──────────────────────────────────────────────────

// QueuePaused is called when a processor pauses its queue.
type QueuePaused interface {
	OnQueuePaused(ctx context.Context, queue string, until time.Time) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
