package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/conveyor/id"
)

// UnrecoverableError marks a failure that must not be retried.
type UnrecoverableError struct {
	Err error
}

// Unrecoverable wraps err so the job goes straight to the dead letter path.
func Unrecoverable(err error) error {
	return &UnrecoverableError{Err: err}
}

func (e *UnrecoverableError) Error() string {
	if e.Err == nil {
		return "unrecoverable"
	}
	return "unrecoverable: " + e.Err.Error()
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// RateLimitError asks the manager to pause the job's queue.
type RateLimitError struct {
	RetryAfter time.Duration
}

// RateLimited pauses dispatch on the job's queue for d and requeues the
// job without counting an attempt.
func RateLimited(d time.Duration) error {
	return &RateLimitError{RetryAfter: d}
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

// WaitingOnChildrenError suspends the job until the listed jobs finish.
type WaitingOnChildrenError struct {
	Children []id.JobID
}

// WaitingOnChildren suspends the job until every child is terminal.
// Suspension does not count as an attempt.
func WaitingOnChildren(children ...id.JobID) error {
	return &WaitingOnChildrenError{Children: children}
}

func (e *WaitingOnChildrenError) Error() string {
	ids := make([]string, len(e.Children))
	for i, c := range e.Children {
		ids[i] = c.String()
	}
	return "waiting on children: " + strings.Join(ids, ",")
}

// KindError attaches a FailureKind to an error.
type KindError struct {
	Kind FailureKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() error { return e.Err }

// ConfigError marks err as a configuration problem.
func ConfigError(err error) error { return &KindError{Kind: FailureConfiguration, Err: err} }

// ExternalError marks err as a failure of an external service.
func ExternalError(err error) error { return &KindError{Kind: FailureExternal, Err: err} }

// CorruptionError marks err as caused by corrupt input data.
func CorruptionError(err error) error { return &KindError{Kind: FailureCorruption, Err: err} }

// KindOf returns the FailureKind attached anywhere in err's chain.
func KindOf(err error) FailureKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return FailureUnknown
}

// IsUnrecoverable reports whether err carries an UnrecoverableError.
func IsUnrecoverable(err error) bool {
	var ue *UnrecoverableError
	return errors.As(err, &ue)
}
