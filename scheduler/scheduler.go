// Package scheduler creates jobs on configured queues.
//
// Scheduling only persists the job. Dispatch is the queue manager's
// concern; callers that want immediate pickup hand the returned job to
// worker.Manager.Enqueue (the engine does this for them).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/clock"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
)

// Scheduler validates and persists new jobs.
type Scheduler struct {
	queues queue.Store
	jobs   job.Store
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for CreatedAt and ScheduledFor.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler over the given config and job stores.
func New(queues queue.Store, jobs job.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		queues: queues,
		jobs:   jobs,
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleJob creates a job named name on queueName. The queue's default
// job options are the base; opts are applied on top in order. The job is
// DELAYED when the merged options defer it and WAITING otherwise.
func (s *Scheduler) ScheduleJob(ctx context.Context, name, queueName string, payload job.Payload, opts ...job.Option) (*job.Job, error) {
	cfg, err := s.queues.FindByName(ctx, queueName)
	if err != nil {
		return nil, err
	}
	if cfg.Disabled {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrQueueInactive, queueName)
	}

	merged := cfg.DefaultJobOptions.Apply(opts...)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	j := job.New(name, queueName, payload, merged, s.clock.Now())
	if err := s.jobs.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", name, err)
	}

	s.logger.Debug("job scheduled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", name),
		slog.String("queue", queueName),
		slog.String("status", string(j.Status)),
		slog.Time("scheduled_for", j.ScheduledFor),
	)
	return j, nil
}
