package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

const jobColumns = `
	id, name, queue, status, payload, options, attempts, progress,
	scheduled_for, created_at, updated_at, processed_at, failed_at, completed_at,
	failure_reason, failure_kind, result, checkpoint, waiting_on,
	worker_id, heartbeat_at, version, dead_letter_retries, replay_of, dlq_handled_at`

// jobArgs returns the column values of j in jobColumns order.
func jobArgs(j *job.Job) ([]any, error) {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: encode payload: %w", err)
	}
	if j.Payload == nil {
		payload = []byte("{}")
	}
	options, err := json.Marshal(j.Options)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: encode options: %w", err)
	}
	checkpoint, err := marshalJSON(j.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: encode checkpoint: %w", err)
	}
	var result []byte
	if len(j.Result) > 0 {
		result = j.Result
	}
	waitingOn := make([]string, len(j.WaitingOn))
	for i, c := range j.WaitingOn {
		waitingOn[i] = c.String()
	}

	return []any{
		j.ID.String(), j.Name, j.Queue, string(j.Status), payload, options, j.Attempts, j.Progress,
		j.ScheduledFor, j.CreatedAt, j.UpdatedAt, j.ProcessedAt, j.FailedAt, j.CompletedAt,
		j.FailureReason, string(j.FailureKind), result, checkpoint, waitingOn,
		j.WorkerID.String(), j.HeartbeatAt, j.Version, j.DeadLetterRetries, j.ReplayOf.String(),
		j.DeadLetterHandledAt,
	}, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                         job.Job
		rawID, workerID, replayOf string
		status, kind              string
		payload, options          []byte
		result, checkpoint        []byte
		waitingOn                 []string
	)
	err := row.Scan(
		&rawID, &j.Name, &j.Queue, &status, &payload, &options, &j.Attempts, &j.Progress,
		&j.ScheduledFor, &j.CreatedAt, &j.UpdatedAt, &j.ProcessedAt, &j.FailedAt, &j.CompletedAt,
		&j.FailureReason, &kind, &result, &checkpoint, &waitingOn,
		&workerID, &j.HeartbeatAt, &j.Version, &j.DeadLetterRetries, &replayOf,
		&j.DeadLetterHandledAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(rawID); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: %w", err)
	}
	if j.WorkerID, err = parseOptionalID(workerID, id.PrefixWorker); err != nil {
		return nil, err
	}
	if j.ReplayOf, err = parseOptionalID(replayOf, id.PrefixJob); err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	j.FailureKind = job.FailureKind(kind)

	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: decode payload of %s: %w", rawID, err)
	}
	if err := json.Unmarshal(options, &j.Options); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: decode options of %s: %w", rawID, err)
	}
	if len(checkpoint) > 0 {
		if err := json.Unmarshal(checkpoint, &j.Checkpoint); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: decode checkpoint of %s: %w", rawID, err)
		}
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	for _, c := range waitingOn {
		child, err := id.ParseJobID(c)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: %w", err)
		}
		j.WaitingOn = append(j.WaitingOn, child)
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()
	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	args = append(args, j.Options.Priority)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (`+jobColumns+`, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		args...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", conveyor.ErrJobAlreadyExists, j.ID)
		}
		return fmt.Errorf("conveyor/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// FindReady returns the next dispatchable jobs of queue without claiming them.
func (s *Store) FindReady(ctx context.Context, queue string, now time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM conveyor_jobs
		WHERE queue = $1
		  AND status IN ('waiting', 'delayed')
		  AND scheduled_for <= $2
		ORDER BY priority DESC, scheduled_for ASC, created_at ASC
		LIMIT $3`,
		queue, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: find ready: %w", err)
	}
	return collectJobs(rows)
}

// Transition writes j if the stored status is from and the stored version
// is j.Version.
func (s *Store) Transition(ctx context.Context, j *job.Job, from job.Status) error {
	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	// Drop name, queue and created_at; they never change after CreateJob.
	upd := append([]any{args[0]}, args[3:9]...)
	upd = append(upd, args[10:]...)
	upd = append(upd, j.Options.Priority, string(from))

	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			status = $2, payload = $3, options = $4, attempts = $5, progress = $6,
			scheduled_for = $7, updated_at = $8, processed_at = $9, failed_at = $10,
			completed_at = $11, failure_reason = $12, failure_kind = $13, result = $14,
			checkpoint = $15, waiting_on = $16, worker_id = $17, heartbeat_at = $18,
			version = version + 1, dead_letter_retries = $20, replay_of = $21,
			dlq_handled_at = $22, priority = $23
		WHERE id = $1 AND status = $24 AND version = $19`,
		upd...,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, j.ID, from, j.Version)
	}
	j.Version++
	return nil
}

// transitionConflict explains a Transition that matched no row.
func (s *Store) transitionConflict(ctx context.Context, jobID id.JobID, from job.Status, version int64) error {
	var status string
	var cur int64
	err := s.pool.QueryRow(ctx, `SELECT status, version FROM conveyor_jobs WHERE id = $1`, jobID.String()).
		Scan(&status, &cur)
	if isNoRows(err) {
		return fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("conveyor/postgres: transition job: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s@%d, expected %s@%d",
		conveyor.ErrStatusConflict, jobID, status, cur, from, version)
}

// Heartbeat records liveness for an active job held by workerID.
func (s *Store) Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET heartbeat_at = $3
		WHERE id = $1 AND status = 'active' AND worker_id = $2`,
		jobID.String(), workerID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s not held by %s", conveyor.ErrStatusConflict, jobID, workerID)
	}
	return nil
}

func jobFilter(queue string, statuses []job.Status) (string, []any) {
	var (
		where []string
		args  []any
	)
	if queue != "" {
		args = append(args, queue)
		where = append(where, fmt.Sprintf("queue = $%d", len(args)))
	}
	if len(statuses) > 0 {
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		args = append(args, ss)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	where, args := jobFilter(opts.Queue, opts.Statuses)
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs` + where + ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var statuses []job.Status
	if opts.Status != "" {
		statuses = []job.Status{opts.Status}
	}
	where, args := jobFilter(opts.Queue, statuses)

	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conveyor_jobs`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	return count, nil
}
