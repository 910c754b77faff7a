package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/id"
)

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", conveyor.ErrInvalidStateTransition, from, to)
}

// MarkActive claims a pending job. It fails without touching the job
// unless the status is WAITING or DELAYED.
func (j *Job) MarkActive(now time.Time) error {
	if !j.Status.IsPending() {
		return invalidTransition(j.Status, StatusActive)
	}
	j.Status = StatusActive
	j.ProcessedAt = &now
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	return nil
}

// UpdateProgress records progress in [0, 100] for an ACTIVE job.
func (j *Job) UpdateProgress(now time.Time, p int) error {
	if j.Status != StatusActive {
		return fmt.Errorf("%w: progress update while %s", conveyor.ErrInvalidStateTransition, j.Status)
	}
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: got %d", conveyor.ErrInvalidProgress, p)
	}
	j.Progress = p
	j.UpdatedAt = now
	return nil
}

// SetCheckpoint stores resumable state for an ACTIVE job.
func (j *Job) SetCheckpoint(now time.Time, key string, value any) error {
	if j.Status != StatusActive {
		return fmt.Errorf("%w: checkpoint while %s", conveyor.ErrInvalidStateTransition, j.Status)
	}
	if j.Checkpoint == nil {
		j.Checkpoint = make(map[string]any)
	}
	j.Checkpoint[key] = value
	j.UpdatedAt = now
	return nil
}

// MarkCompleted finishes an ACTIVE job. A non-nil result is stored as JSON.
func (j *Job) MarkCompleted(now time.Time, result any) error {
	if j.Status != StatusActive {
		return invalidTransition(j.Status, StatusCompleted)
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("job: encode result: %w", err)
		}
		j.Result = raw
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.release()
	return nil
}

// MarkFailed records a failed attempt of an ACTIVE job and returns the
// computed retry delay. Attempts is always incremented. A recoverable
// failure with budget left goes to DELAYED (or WAITING when the delay is
// zero); anything else goes to FAILED.
func (j *Job) MarkFailed(now time.Time, reason string, recoverable bool) (time.Duration, error) {
	return j.MarkFailedCapped(now, reason, recoverable, 0)
}

// MarkFailedCapped is MarkFailed with the retry delay limited to maxDelay
// when maxDelay is positive.
func (j *Job) MarkFailedCapped(now time.Time, reason string, recoverable bool, maxDelay time.Duration) (time.Duration, error) {
	if j.Status != StatusActive {
		return 0, invalidTransition(j.Status, StatusFailed)
	}
	j.Attempts++
	j.FailedAt = &now
	j.FailureReason = reason
	j.UpdatedAt = now
	j.release()

	if !recoverable || j.Attempts >= j.Options.MaxAttempts {
		j.Status = StatusFailed
		return 0, nil
	}

	delay := backoff.Cap(j.Options.Backoff.Delay(j.Attempts), maxDelay)
	j.ScheduledFor = now.Add(delay)
	if delay > 0 {
		j.Status = StatusDelayed
	} else {
		j.Status = StatusWaiting
	}
	return delay, nil
}

// MoveToDeadLetter hands any non-terminal job to the dead letter path.
// Calling it on a DEAD_LETTER job is a no-op.
func (j *Job) MoveToDeadLetter(now time.Time, reason string) error {
	switch j.Status {
	case StatusDeadLetter:
		return nil
	case StatusCompleted:
		return invalidTransition(j.Status, StatusDeadLetter)
	}
	j.Status = StatusDeadLetter
	j.FailureReason = reason
	if j.FailedAt == nil {
		j.FailedAt = &now
	}
	j.UpdatedAt = now
	j.release()
	return nil
}

// MarkDeadLetterHandled records that the dead letter handler acted on a
// DEAD_LETTER job. The job stays DEAD_LETTER.
func (j *Job) MarkDeadLetterHandled(now time.Time) error {
	if j.Status != StatusDeadLetter {
		return invalidTransition(j.Status, StatusDeadLetter)
	}
	j.DeadLetterHandledAt = &now
	j.UpdatedAt = now
	return nil
}

// Requeue returns an ACTIVE job to the ready set at the given instant
// without counting an attempt.
func (j *Job) Requeue(now, at time.Time) error {
	if j.Status != StatusActive {
		return invalidTransition(j.Status, StatusWaiting)
	}
	j.Status = StatusWaiting
	if at.After(now) {
		j.Status = StatusDelayed
	} else {
		at = now
	}
	j.ScheduledFor = at
	j.UpdatedAt = now
	j.release()
	return nil
}

// Suspend parks an ACTIVE job until the given children are terminal.
func (j *Job) Suspend(now time.Time, children []id.JobID) error {
	if j.Status != StatusActive {
		return invalidTransition(j.Status, StatusSuspended)
	}
	j.Status = StatusSuspended
	j.WaitingOn = append([]id.JobID(nil), children...)
	j.UpdatedAt = now
	j.release()
	return nil
}

// Resume makes a SUSPENDED job ready again.
func (j *Job) Resume(now time.Time) error {
	if j.Status != StatusSuspended {
		return invalidTransition(j.Status, StatusWaiting)
	}
	j.Status = StatusWaiting
	j.WaitingOn = nil
	j.ScheduledFor = now
	j.UpdatedAt = now
	return nil
}

// Cancel fails a job that has not yet finished. Attempts is unchanged.
func (j *Job) Cancel(now time.Time) error {
	switch j.Status {
	case StatusWaiting, StatusDelayed, StatusActive, StatusSuspended:
	default:
		return invalidTransition(j.Status, StatusFailed)
	}
	j.Status = StatusFailed
	j.FailureReason = CancelReason
	j.FailedAt = &now
	j.UpdatedAt = now
	j.WaitingOn = nil
	j.release()
	return nil
}

// release clears holder information once the job leaves ACTIVE.
func (j *Job) release() {
	j.WorkerID = id.Nil
	j.HeartbeatAt = nil
}
