package job

import "context"

// Processor executes jobs of one type. payload is a copy of the job's
// payload; the job itself is read-only for the processor apart from what
// it reports through [ReportProgress] and [SaveCheckpoint].
type Processor interface {
	Process(ctx context.Context, j *Job, payload Payload) (any, error)
}

// ProcessorFunc adapts a function to [Processor].
type ProcessorFunc func(ctx context.Context, j *Job, payload Payload) (any, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, j *Job, payload Payload) (any, error) {
	return f(ctx, j, payload)
}

// ActiveHook is called after the job was claimed and before Process runs.
type ActiveHook interface {
	OnActive(ctx context.Context, j *Job)
}

// ProgressHook is called after each persisted progress update.
type ProgressHook interface {
	OnProgress(ctx context.Context, j *Job, progress int)
}

// CompletedHook is called after the job reached COMPLETED.
type CompletedHook interface {
	OnCompleted(ctx context.Context, j *Job, result any)
}

// FailedHook is called after every failed attempt, whether or not the job
// will be retried.
type FailedHook interface {
	OnFailed(ctx context.Context, j *Job, err error)
}
