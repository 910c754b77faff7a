package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

const dlqColumns = `
	id, job_id, job_name, queue, payload, reason, attempts, max_attempts,
	classification, action, replays, replay_job_id, quarantined,
	failed_at, replayed_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e                         dlq.Entry
		rawID, jobID, replayJobID string
		class, action             string
		payload                   []byte
	)
	err := row.Scan(
		&rawID, &jobID, &e.JobName, &e.Queue, &payload, &e.Reason, &e.Attempts, &e.MaxAttempts,
		&class, &action, &e.Replays, &replayJobID, &e.Quarantined,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseDLQID(rawID); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: %w", err)
	}
	if e.JobID, err = id.ParseJobID(jobID); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: %w", err)
	}
	if e.ReplayJobID, err = parseOptionalID(replayJobID, id.PrefixJob); err != nil {
		return nil, err
	}
	e.Classification = dlq.Classification(class)
	e.Action = dlq.Action(action)
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: decode dlq payload of %s: %w", rawID, err)
	}
	return &e, nil
}

func encodePayload(e *dlq.Entry) ([]byte, error) {
	if e.Payload == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: encode dlq payload: %w", err)
	}
	return b, nil
}

// PushDLQ adds an entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	payload, err := encodePayload(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID.String(), e.JobID.String(), e.JobName, e.Queue, payload, e.Reason, e.Attempts, e.MaxAttempts,
		string(e.Classification), string(e.Action), e.Replays, e.ReplayJobID.String(), e.Quarantined,
		e.FailedAt, e.ReplayedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: job %s", conveyor.ErrDLQAlreadyExists, e.JobID)
		}
		return fmt.Errorf("conveyor/postgres: push dlq: %w", err)
	}
	return nil
}

// UpdateDLQ replaces the mutable fields of an existing entry.
func (s *Store) UpdateDLQ(ctx context.Context, e *dlq.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_dlq SET
			classification = $2, action = $3, replays = $4, replay_job_id = $5,
			quarantined = $6, replayed_at = $7, updated_at = $8
		WHERE id = $1`,
		e.ID.String(), string(e.Classification), string(e.Action), e.Replays,
		e.ReplayJobID.String(), e.Quarantined, e.ReplayedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, e.ID)
	}
	return nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, `id = $1`, entryID.String())
}

// GetDLQByJob retrieves the entry recorded for a job.
func (s *Store) GetDLQByJob(ctx context.Context, jobID id.JobID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, `job_id = $1`, jobID.String())
}

func (s *Store) getDLQ(ctx context.Context, where, key string) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM conveyor_dlq WHERE `+where, key)
	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, key)
		}
		return nil, fmt.Errorf("conveyor/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ListDLQ returns entries matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM conveyor_dlq WHERE TRUE`
	var args []any
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	if opts.Classification != "" {
		args = append(args, string(opts.Classification))
		query += fmt.Sprintf(" AND classification = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
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
		return nil, fmt.Errorf("conveyor/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var out []*dlq.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: list dlq scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conveyor_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count dlq: %w", err)
	}
	return count, nil
}
