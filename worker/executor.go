package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/job"
)

// execute runs a held job's processor and settles the outcome.
func (m *Manager) execute(h *heldJob) {
	j := h.snapshot()
	hookCtx := context.WithoutCancel(h.ctx)

	proc, ok := m.processors.Lookup(j.Name, j.Queue)
	if !ok {
		m.deadLetterUnroutable(hookCtx, h)
		return
	}

	m.extensions.EmitJobActive(hookCtx, j)
	if hook, ok := proc.(job.ActiveHook); ok {
		hook.OnActive(hookCtx, j)
	}

	start := m.clock.Now()
	var result any
	terminal := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in job %s: %v", j.Name, r)
			}
		}()
		result, err = proc.Process(ctx, j, j.Payload.Clone())
		return err
	}

	err := m.mw(job.WithReporter(h.ctx, h), j, terminal)
	m.settle(hookCtx, h, proc, result, err, m.clock.Now().Sub(start))
}

// deadLetterUnroutable parks a job nobody can process.
func (m *Manager) deadLetterUnroutable(ctx context.Context, h *heldJob) {
	var reason string
	j, err := h.finish(func(j *job.Job, now time.Time) error {
		reason = fmt.Sprintf("%v: %s on queue %s", conveyor.ErrProcessorNotFound, j.Name, j.Queue)
		j.FailureKind = job.FailureConfiguration
		return j.MoveToDeadLetter(now, reason)
	})
	if err != nil {
		m.logDiscarded(h, err)
		return
	}

	m.logger.Error("no processor registered for job",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
	)
	if err := m.alerts.SendAlert(ctx, alert.SeverityCritical, reason, map[string]string{
		"job_id":   j.ID.String(),
		"job_name": j.Name,
		"queue":    j.Queue,
	}); err != nil {
		m.logger.Warn("alert delivery failed", slog.String("error", err.Error()))
	}
	m.extensions.EmitJobDeadLettered(ctx, j, reason)
	m.wakeParents(ctx, j.ID)
}

// settle turns the processor's result into the job's next state.
func (m *Manager) settle(ctx context.Context, h *heldJob, proc job.Processor, result any, runErr error, elapsed time.Duration) {
	var (
		rateLimit *job.RateLimitError
		waiting   *job.WaitingOnChildrenError
		delay     time.Duration
	)

	h.mu.Lock()
	canceled, shutdown := h.canceled, h.shutdown
	h.mu.Unlock()

	j, err := h.finish(func(j *job.Job, now time.Time) error {
		switch {
		case canceled:
			return j.Cancel(now)
		case shutdown && runErr != nil:
			return j.Requeue(now, now)
		case runErr == nil:
			if err := j.MarkCompleted(now, result); err != nil {
				runErr = job.Unrecoverable(job.CorruptionError(err))
				j.FailureKind = job.FailureCorruption
				return j.MoveToDeadLetter(now, runErr.Error())
			}
			return nil
		case errors.As(runErr, &rateLimit):
			until := now.Add(rateLimit.RetryAfter)
			m.gate.PauseUntil(j.Queue, until)
			return j.Requeue(now, until)
		case errors.As(runErr, &waiting):
			return j.Suspend(now, waiting.Children)
		case job.IsUnrecoverable(runErr):
			j.FailureKind = job.KindOf(runErr)
			return j.MoveToDeadLetter(now, runErr.Error())
		default:
			j.FailureKind = job.KindOf(runErr)
			d, err := j.MarkFailedCapped(now, runErr.Error(), true, h.cfg.MaxBackoff)
			delay = d
			return err
		}
	})
	if err != nil {
		m.logDiscarded(h, err)
		return
	}

	attrs := []slog.Attr{
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
		slog.String("status", string(j.Status)),
	}

	switch {
	case canceled:
		m.logger.LogAttrs(ctx, slog.LevelInfo, "job canceled", attrs...)
		m.extensions.EmitJobFailed(ctx, j, context.Canceled)
		m.wakeParents(ctx, j.ID)

	case j.Status == job.StatusCompleted:
		m.extensions.EmitJobCompleted(ctx, j, elapsed)
		if hook, ok := proc.(job.CompletedHook); ok {
			hook.OnCompleted(ctx, j, result)
		}
		m.wakeParents(ctx, j.ID)

	case shutdown:
		m.logger.LogAttrs(ctx, slog.LevelInfo, "job requeued at shutdown", attrs...)

	case rateLimit != nil:
		m.logger.LogAttrs(ctx, slog.LevelInfo, "queue paused by processor",
			append(attrs, slog.Duration("retry_after", rateLimit.RetryAfter))...)
		m.extensions.EmitQueuePaused(ctx, j.Queue, j.ScheduledFor)

	case waiting != nil:
		m.extensions.EmitJobSuspended(ctx, j)
		m.tryResume(ctx, j)

	case j.Status == job.StatusDeadLetter:
		m.logger.LogAttrs(ctx, slog.LevelWarn, "job moved to dead letter",
			append(attrs, slog.String("error", runErr.Error()))...)
		if hook, ok := proc.(job.FailedHook); ok {
			hook.OnFailed(ctx, j, runErr)
		}
		m.extensions.EmitJobDeadLettered(ctx, j, j.FailureReason)
		m.wakeParents(ctx, j.ID)

	case j.Status == job.StatusFailed:
		m.logger.LogAttrs(ctx, slog.LevelWarn, "job failed",
			append(attrs, slog.Int("attempts", j.Attempts), slog.String("error", runErr.Error()))...)
		if hook, ok := proc.(job.FailedHook); ok {
			hook.OnFailed(ctx, j, runErr)
		}
		m.extensions.EmitJobFailed(ctx, j, runErr)
		m.wakeParents(ctx, j.ID)

	default:
		m.logger.LogAttrs(ctx, slog.LevelInfo, "job scheduled for retry",
			append(attrs,
				slog.Int("attempt", j.Attempts),
				slog.Int("max_attempts", j.Options.MaxAttempts),
				slog.Duration("delay", delay),
			)...)
		if hook, ok := proc.(job.FailedHook); ok {
			hook.OnFailed(ctx, j, runErr)
		}
		m.extensions.EmitJobRetrying(ctx, j, j.Attempts, j.ScheduledFor)
	}
}

// finish writes the final state of a held job. It fails when the reaper
// or another worker already settled the job. When the store keeps failing,
// the state is parked as pending and errOutcomePending is returned.
func (h *heldJob) finish(fn func(j *job.Job, now time.Time) error) (*job.Job, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done || h.lost {
		return nil, fmt.Errorf("job %s: %w", h.jobID, conveyor.ErrJobNotHeld)
	}
	h.done = true

	cur := h.job.Clone()
	if err := fn(cur, h.m.clock.Now()); err != nil {
		return nil, err
	}
	if err := h.m.persist(h.m.persistCtx, cur, job.StatusActive); err != nil {
		if errors.Is(err, conveyor.ErrStatusConflict) || errors.Is(err, conveyor.ErrJobNotFound) {
			return nil, err
		}
		h.pending = cur
		return nil, fmt.Errorf("%w: %w", errOutcomePending, err)
	}
	h.job = cur
	return cur.Clone(), nil
}

var errOutcomePending = errors.New("job outcome pending")

func (m *Manager) logDiscarded(h *heldJob, err error) {
	if errors.Is(err, errOutcomePending) {
		m.logger.Warn("job outcome not persisted, keeping the job held",
			slog.String("job_id", h.jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.Warn("job result discarded",
		slog.String("job_id", h.jobID.String()),
		slog.String("error", err.Error()),
	)
}
