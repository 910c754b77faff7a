package middleware

import (
	"context"
	"errors"

	"github.com/xraph/conveyor/job"
)

// Handler is the terminal function that runs the processor.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// job being executed and the next handler to call. Middleware MUST call
// next unless deliberately short-circuiting.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware into one. Chain(a, b) runs as a → b → handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Outcome labels.
const (
	OutcomeOK            = "ok"
	OutcomeError         = "error"
	OutcomeUnrecoverable = "unrecoverable"
	OutcomeRateLimited   = "rate_limited"
	OutcomeWaiting       = "waiting"
	OutcomeCanceled      = "canceled"
)

// Outcome classifies a processor result for logs and instrumentation.
func Outcome(err error) string {
	var (
		rl *job.RateLimitError
		wc *job.WaitingOnChildrenError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &rl):
		return OutcomeRateLimited
	case errors.As(err, &wc):
		return OutcomeWaiting
	case job.IsUnrecoverable(err):
		return OutcomeUnrecoverable
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// isFailure reports whether an outcome counts as a failed execution.
func isFailure(outcome string) bool {
	return outcome == OutcomeError || outcome == OutcomeUnrecoverable
}
