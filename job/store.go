package job

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// ListOpts controls filtering and pagination for job list queries.
type ListOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Statuses filters by status. Empty means all statuses.
	Statuses []Status
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Status filters by status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for jobs.
type Store interface {
	// CreateJob persists a new job. Returns conveyor.ErrJobAlreadyExists
	// when the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns conveyor.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindReady returns up to limit WAITING or DELAYED jobs of queue whose
	// ScheduledFor is not after now, ordered by priority descending, then
	// ScheduledFor ascending, then CreatedAt ascending. It does not claim.
	FindReady(ctx context.Context, queue string, now time.Time, limit int) ([]*Job, error)

	// Transition atomically replaces the stored job with j if the stored
	// status equals from and the stored version equals j.Version. On
	// success j.Version is incremented. Returns conveyor.ErrStatusConflict
	// when either check fails.
	Transition(ctx context.Context, j *Job, from Status) error

	// Heartbeat sets HeartbeatAt for an ACTIVE job held by workerID without
	// bumping its version. Returns conveyor.ErrStatusConflict when the job
	// is no longer held by workerID.
	Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID, at time.Time) error

	// ListJobs returns jobs matching opts ordered by creation time.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
