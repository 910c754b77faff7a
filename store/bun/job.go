package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", conveyor.ErrJobAlreadyExists, j.ID)
		}
		return fmt.Errorf("conveyor/bun: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("conveyor/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// FindReady returns the next dispatchable jobs of queue without claiming them.
func (s *Store) FindReady(ctx context.Context, queue string, now time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("queue = ?", queue).
		Where("status IN (?)", bun.In([]string{string(job.StatusWaiting), string(job.StatusDelayed)})).
		Where("scheduled_for <= ?", now).
		OrderExpr("priority DESC, scheduled_for ASC, created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: find ready: %w", err)
	}
	return fromJobModels(models)
}

// Transition writes j if the stored status is from and the stored version
// is j.Version.
func (s *Store) Transition(ctx context.Context, j *job.Job, from job.Status) error {
	m := toJobModel(j)
	m.Version = j.Version + 1

	res, err := s.db.NewUpdate().Model(m).
		ExcludeColumn("name", "queue", "created_at").
		WherePK().
		Where("status = ?", string(from)).
		Where("version = ?", j.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: transition job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		var cur jobModel
		err := s.db.NewSelect().Model(&cur).
			Column("status", "version").
			Where("id = ?", m.ID).
			Scan(ctx)
		if isNoRows(err) {
			return fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, j.ID)
		}
		if err != nil {
			return fmt.Errorf("conveyor/bun: transition job: %w", err)
		}
		return fmt.Errorf("%w: job %s is %s@%d, expected %s@%d",
			conveyor.ErrStatusConflict, j.ID, cur.Status, cur.Version, from, j.Version)
	}
	j.Version++
	return nil
}

// Heartbeat records liveness for an active job held by workerID.
func (s *Store) Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID, at time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("conveyor_jobs").
		Set("heartbeat_at = ?", at).
		Where("id = ?", jobID.String()).
		Where("status = ?", string(job.StatusActive)).
		Where("worker_id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: heartbeat: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return fmt.Errorf("%w: job %s not held by %s", conveyor.ErrStatusConflict, jobID, workerID)
	}
	return nil
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)
	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statusStrings(opts.Statuses)))
	}
	q = q.OrderExpr("created_at ASC, id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list jobs: %w", err)
	}
	return fromJobModels(models)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))
	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

func statusStrings(statuses []job.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
