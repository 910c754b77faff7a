package worker

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// sendHeartbeats refreshes HeartbeatAt of every job held by this manager,
// including jobs whose outcome is still pending. A job whose heartbeat is
// refused was taken over; its processor is canceled and its result will be
// discarded.
func (m *Manager) sendHeartbeats(ctx context.Context) {
	for _, h := range m.heldJobs() {
		h.mu.Lock()
		skip := (h.done && h.pending == nil) || h.lost
		h.mu.Unlock()
		if skip {
			continue
		}

		now := m.clock.Now()
		err := m.jobs.Heartbeat(ctx, h.jobID, m.workerID, now)
		switch {
		case err == nil:
			h.mu.Lock()
			h.job.HeartbeatAt = &now
			h.mu.Unlock()
		case errors.Is(err, conveyor.ErrStatusConflict), errors.Is(err, conveyor.ErrJobNotFound):
			m.logger.Warn("job no longer held, cancelling",
				slog.String("job_id", h.jobID.String()),
			)
			h.markLost()
		default:
			m.logger.Warn("heartbeat failed",
				slog.String("job_id", h.jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Manager) maintain(ctx context.Context) {
	m.flushPending(ctx)
	if _, err := m.ReapStalled(ctx); err != nil {
		m.logger.Error("stall reaper failed", slog.String("error", err.Error()))
	}
	if _, err := m.ResumeSuspended(ctx); err != nil {
		m.logger.Error("resume suspended jobs failed", slog.String("error", err.Error()))
	}
}

// ReapStalled force-fails stalled jobs and returns how many it failed.
//
// Locally held jobs stall when they run past their timeout, or past a
// cancel request, by more than CancelGrace. ACTIVE jobs held elsewhere
// stall when their last heartbeat is older than StallThreshold. Stalls
// count as a recoverable attempt, except for canceled jobs, which end
// FAILED with reason "canceled".
func (m *Manager) ReapStalled(ctx context.Context) (int, error) {
	reaped := 0
	for _, h := range m.heldJobs() {
		if m.reapHeld(ctx, h) {
			reaped++
		}
	}

	if m.cfg.StallThreshold <= 0 {
		return reaped, nil
	}

	active, err := m.jobs.ListJobs(ctx, job.ListOpts{Statuses: []job.Status{job.StatusActive}})
	if err != nil {
		return reaped, err
	}
	now := m.clock.Now()
	for _, j := range active {
		if m.isHeld(j.ID) || !stalled(j, now, m.cfg.StallThreshold) {
			continue
		}

		var maxBackoff time.Duration
		if cfg, err := m.queues.FindByName(ctx, j.Queue); err == nil {
			maxBackoff = cfg.MaxBackoff
		}
		if _, err := j.MarkFailedCapped(now, "stalled: no heartbeat", true, maxBackoff); err != nil {
			continue
		}
		if err := m.jobs.Transition(ctx, j, job.StatusActive); err != nil {
			if !errors.Is(err, conveyor.ErrStatusConflict) {
				m.logger.Warn("failed to reap stalled job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		reaped++
		m.logger.Warn("reaped stalled job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("status", string(j.Status)),
		)
		m.afterStall(ctx, j)
	}
	return reaped, nil
}

// reapHeld force-fails a local job that overran its timeout or cancel
// request by more than the grace period.
func (m *Manager) reapHeld(ctx context.Context, h *heldJob) bool {
	grace := m.cfg.CancelGrace
	now := m.clock.Now()

	h.mu.Lock()
	if h.done || h.lost {
		h.mu.Unlock()
		return false
	}
	overTimeout := !h.deadline.IsZero() && now.After(h.deadline.Add(grace))
	overCancel := h.canceled && now.After(h.cancelAt.Add(grace))
	if !overTimeout && !overCancel {
		h.mu.Unlock()
		return false
	}

	cur := h.job.Clone()
	var err error
	if h.canceled {
		err = cur.Cancel(now)
	} else {
		_, err = cur.MarkFailedCapped(now, "stalled: exceeded timeout", true, h.cfg.MaxBackoff)
	}
	if err == nil {
		err = m.persist(m.persistCtx, cur, job.StatusActive)
	}
	h.done = true
	if err == nil {
		h.job = cur
	}
	h.mu.Unlock()

	h.releaseSlot()
	if err != nil {
		m.logDiscarded(h, err)
		return false
	}

	m.logger.Warn("force-failed overrunning job",
		slog.String("job_id", cur.ID.String()),
		slog.String("job_name", cur.Name),
		slog.String("status", string(cur.Status)),
	)
	m.afterStall(ctx, cur.Clone())
	return true
}

// flushPending retries the writes of outcomes the store refused earlier and
// releases the jobs it settles.
func (m *Manager) flushPending(ctx context.Context) {
	for _, h := range m.heldJobs() {
		h.mu.Lock()
		cur := h.pending
		if cur == nil {
			h.mu.Unlock()
			continue
		}
		err := m.persist(ctx, cur, job.StatusActive)
		if err != nil && !errors.Is(err, conveyor.ErrStatusConflict) && !errors.Is(err, conveyor.ErrJobNotFound) {
			h.mu.Unlock()
			m.logger.Warn("job outcome still not persisted",
				slog.String("job_id", h.jobID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		h.pending = nil
		if err == nil {
			h.job = cur
		}
		h.mu.Unlock()

		h.releaseSlot()
		if err != nil {
			m.logDiscarded(h, err)
			continue
		}
		m.logger.Info("persisted pending job outcome",
			slog.String("job_id", cur.ID.String()),
			slog.String("status", string(cur.Status)),
		)
		m.afterFlush(ctx, cur.Clone())
	}
}

// dropPending releases the jobs whose outcome could not be written before
// shutdown. They stay ACTIVE in the store until a stall reaper finds them.
func (m *Manager) dropPending() {
	for _, h := range m.heldJobs() {
		h.mu.Lock()
		cur := h.pending
		h.pending = nil
		h.mu.Unlock()
		if cur == nil {
			continue
		}
		h.releaseSlot()
		m.logger.Error("job outcome lost at shutdown",
			slog.String("job_id", cur.ID.String()),
			slog.String("status", string(cur.Status)),
		)
	}
}

func (m *Manager) afterFlush(ctx context.Context, j *job.Job) {
	switch j.Status {
	case job.StatusWaiting, job.StatusDelayed:
		m.wake(j.Queue)
	case job.StatusSuspended:
		m.tryResume(ctx, j)
	default:
		m.wakeParents(ctx, j.ID)
	}
}

func (m *Manager) afterStall(ctx context.Context, j *job.Job) {
	m.extensions.EmitJobStalled(ctx, j)
	switch j.Status {
	case job.StatusWaiting, job.StatusDelayed:
		m.extensions.EmitJobRetrying(ctx, j, j.Attempts, j.ScheduledFor)
		m.wake(j.Queue)
	default:
		m.extensions.EmitJobFailed(ctx, j, errors.New(j.FailureReason))
		m.wakeParents(ctx, j.ID)
	}
}

func stalled(j *job.Job, now time.Time, threshold time.Duration) bool {
	last := j.HeartbeatAt
	if last == nil {
		last = j.ProcessedAt
	}
	if last == nil {
		return false
	}
	return now.Sub(*last) > threshold
}

// ResumeSuspended resumes every SUSPENDED job whose children are all
// finished and returns how many it resumed.
func (m *Manager) ResumeSuspended(ctx context.Context) (int, error) {
	suspended, err := m.jobs.ListJobs(ctx, job.ListOpts{Statuses: []job.Status{job.StatusSuspended}})
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, j := range suspended {
		if m.tryResume(ctx, j) {
			resumed++
		}
	}
	return resumed, nil
}

// wakeParents re-checks suspended jobs waiting on child.
func (m *Manager) wakeParents(ctx context.Context, child id.JobID) {
	suspended, err := m.jobs.ListJobs(ctx, job.ListOpts{Statuses: []job.Status{job.StatusSuspended}})
	if err != nil {
		m.logger.Warn("list suspended jobs failed", slog.String("error", err.Error()))
		return
	}
	for _, j := range suspended {
		if slices.Contains(j.WaitingOn, child) {
			m.tryResume(ctx, j)
		}
	}
}

// tryResume moves j back to WAITING when none of its children can still
// run. A child that no longer exists counts as finished.
func (m *Manager) tryResume(ctx context.Context, j *job.Job) bool {
	for _, childID := range j.WaitingOn {
		child, err := m.jobs.GetJob(ctx, childID)
		if errors.Is(err, conveyor.ErrJobNotFound) {
			continue
		}
		if err != nil {
			m.logger.Warn("child lookup failed",
				slog.String("job_id", j.ID.String()),
				slog.String("child_id", childID.String()),
				slog.String("error", err.Error()),
			)
			return false
		}
		if !childFinished(child.Status) {
			return false
		}
	}

	j = j.Clone()
	if err := j.Resume(m.clock.Now()); err != nil {
		return false
	}
	if err := m.jobs.Transition(ctx, j, job.StatusSuspended); err != nil {
		if !errors.Is(err, conveyor.ErrStatusConflict) {
			m.logger.Warn("failed to resume job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	m.logger.Debug("resumed suspended job", slog.String("job_id", j.ID.String()))
	m.wake(j.Queue)
	return true
}

func childFinished(s job.Status) bool {
	return s.IsTerminal() || s == job.StatusFailed
}
