package job

import (
	"context"
	"errors"
)

// ErrNoReporter is returned by ReportProgress and SaveCheckpoint when ctx
// was not created by a queue manager.
var ErrNoReporter = errors.New("job: no reporter in context")

// Reporter persists progress and checkpoints for the job being executed.
type Reporter interface {
	ReportProgress(ctx context.Context, p int) error
	SaveCheckpoint(ctx context.Context, key string, value any) error
}

type reporterKey struct{}

// WithReporter returns a context carrying r.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

func reporterFrom(ctx context.Context) (Reporter, bool) {
	r, ok := ctx.Value(reporterKey{}).(Reporter)
	return r, ok
}

// ReportProgress records progress in [0, 100] for the running job.
func ReportProgress(ctx context.Context, p int) error {
	r, ok := reporterFrom(ctx)
	if !ok {
		return ErrNoReporter
	}
	return r.ReportProgress(ctx, p)
}

// SaveCheckpoint persists key=value in the running job's checkpoint.
func SaveCheckpoint(ctx context.Context, key string, value any) error {
	r, ok := reporterFrom(ctx)
	if !ok {
		return ErrNoReporter
	}
	return r.SaveCheckpoint(ctx, key, value)
}
