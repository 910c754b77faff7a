package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

// PushDLQ stores an entry, at most one per job.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("conveyor/redis: encode dlq entry: %w", err)
	}
	eID := e.ID.String()

	claimed, err := s.client.HSetNX(ctx, dlqByJobKey, e.JobID.String(), eID).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: push dlq: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: job %s", conveyor.ErrDLQAlreadyExists, e.JobID)
	}

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, dlqKey(eID), data, 0)
		p.ZAdd(ctx, dlqCreatedKey, goredis.Z{Score: float64(e.CreatedAt.UnixMilli()), Member: eID})
		p.ZAdd(ctx, dlqFailedKey, goredis.Z{Score: float64(e.FailedAt.UnixMilli()), Member: eID})
		return nil
	})
	if err != nil {
		_ = s.client.HDel(ctx, dlqByJobKey, e.JobID.String()).Err()
		return fmt.Errorf("conveyor/redis: push dlq: %w", err)
	}
	return nil
}

// UpdateDLQ replaces an existing entry.
func (s *Store) UpdateDLQ(ctx context.Context, e *dlq.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("conveyor/redis: encode dlq entry: %w", err)
	}
	// XX only overwrites an existing key.
	ok, err := s.client.SetXX(ctx, dlqKey(e.ID.String()), data, goredis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update dlq: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, e.ID)
	}
	return nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getEntry(ctx, entryID.String())
}

// GetDLQByJob retrieves the entry recorded for a job.
func (s *Store) GetDLQByJob(ctx context.Context, jobID id.JobID) (*dlq.Entry, error) {
	eID, err := s.client.HGet(ctx, dlqByJobKey, jobID.String()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: job %s", conveyor.ErrDLQNotFound, jobID)
		}
		return nil, fmt.Errorf("conveyor/redis: get dlq by job: %w", err)
	}
	return s.getEntry(ctx, eID)
}

func (s *Store) getEntry(ctx context.Context, eID string) (*dlq.Entry, error) {
	raw, err := s.client.Get(ctx, dlqKey(eID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, eID)
		}
		return nil, fmt.Errorf("conveyor/redis: get dlq: %w", err)
	}
	var e dlq.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("conveyor/redis: decode dlq entry %s: %w", eID, err)
	}
	return &e, nil
}

// ListDLQ returns entries matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqCreatedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list dlq: %w", err)
	}

	out := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, err := s.getEntry(ctx, eID)
		if errors.Is(err, conveyor.ErrDLQNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.Classification != "" && e.Classification != opts.Classification {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, dlqFailedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge dlq: %w", err)
	}

	var count int64
	for _, eID := range ids {
		e, err := s.getEntry(ctx, eID)
		if err != nil && !errors.Is(err, conveyor.ErrDLQNotFound) {
			return count, err
		}
		_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, dlqKey(eID))
			p.ZRem(ctx, dlqCreatedKey, eID)
			p.ZRem(ctx, dlqFailedKey, eID)
			if e != nil {
				p.HDel(ctx, dlqByJobKey, e.JobID.String())
			}
			return nil
		})
		if err != nil {
			return count, fmt.Errorf("conveyor/redis: purge dlq: %w", err)
		}
		if e != nil {
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqCreatedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count dlq: %w", err)
	}
	return n, nil
}
