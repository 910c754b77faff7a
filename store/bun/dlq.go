package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.NewInsert().Model(toDLQModel(entry)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: job %s", conveyor.ErrDLQAlreadyExists, entry.JobID)
		}
		return fmt.Errorf("conveyor/bun: push dlq: %w", err)
	}
	return nil
}

// UpdateDLQ replaces the handling fields of an existing entry.
func (s *Store) UpdateDLQ(ctx context.Context, entry *dlq.Entry) error {
	res, err := s.db.NewUpdate().Model(toDLQModel(entry)).
		Column("classification", "action", "replays", "replay_job_id",
			"quarantined", "replayed_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: update dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, entry.ID)
	}
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, "id = ?", entryID.String())
}

// GetDLQByJob retrieves the entry recorded for a job.
func (s *Store) GetDLQByJob(ctx context.Context, jobID id.JobID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, "job_id = ?", jobID.String())
}

func (s *Store) getDLQ(ctx context.Context, where, key string) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().Model(m).
		Where(where, key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, key)
		}
		return nil, fmt.Errorf("conveyor/bun: get dlq: %w", err)
	}
	return fromDLQModel(m)
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}
	if opts.Classification != "" {
		q = q.Where("classification = ?", string(opts.Classification))
	}

	q = q.OrderExpr("created_at DESC, id DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, err := fromDLQModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("conveyor/bun: list dlq convert: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
// Returns the number of entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("conveyor_dlq").
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: purge dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		TableExpr("conveyor_dlq").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: count dlq: %w", err)
	}
	return int64(count), nil
}
