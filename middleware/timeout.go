package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/conveyor/job"
)

// Timeout returns middleware that bounds each attempt by the job's
// Options.Timeout. When the deadline passes the context is canceled; a
// processor that ignores it still has its result replaced by a timeout
// error.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Options.Timeout
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("job %s timed out after %v: %w", j.Name, d, ctx.Err())
		}
		return err
	}
}
