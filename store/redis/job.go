package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// createJobScript stores a job unless its key exists.
//
// KEYS: job, ready, jobs index
// ARGV: id, data, status, queue, created score, ready score ("" when not pending)
var createJobScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'status', ARGV[3], 'version', '0',
	'queue', ARGV[4], 'worker', '', 'heartbeat', '')
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
if ARGV[6] ~= '' then
	redis.call('ZADD', KEYS[2], ARGV[6], ARGV[1])
end
return 1
`)

// transitionScript replaces a job when its status and version match.
//
// KEYS: job, ready
// ARGV: id, from, version, data, status, worker, heartbeat, ready score
// Returns -1 when missing, 0 on conflict, 1 on success.
var transitionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local cur = redis.call('HMGET', KEYS[1], 'status', 'version')
if cur[1] ~= ARGV[2] or cur[2] ~= ARGV[3] then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[4], 'status', ARGV[5],
	'version', tostring(tonumber(ARGV[3]) + 1), 'worker', ARGV[6], 'heartbeat', ARGV[7])
if ARGV[8] == '' then
	redis.call('ZREM', KEYS[2], ARGV[1])
else
	redis.call('ZADD', KEYS[2], ARGV[8], ARGV[1])
end
return 1
`)

// heartbeatScript sets the heartbeat of an active job held by a worker.
//
// KEYS: job
// ARGV: worker, heartbeat
var heartbeatScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local cur = redis.call('HMGET', KEYS[1], 'status', 'worker')
if cur[1] ~= 'active' or cur[2] ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'heartbeat', ARGV[2])
return 1
`)

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func readyScore(j *job.Job) string {
	if !j.Status.IsPending() {
		return ""
	}
	return score(j.ScheduledFor)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateJob stores a new job and indexes it.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("conveyor/redis: encode job: %w", err)
	}
	jID := j.ID.String()
	res, err := createJobScript.Run(ctx, s.client,
		[]string{jobKey(jID), readyKey(j.Queue), jobsIndexKey},
		jID, data, string(j.Status), j.Queue, score(j.CreatedAt), readyScore(j),
	).Int()
	if err != nil {
		return fmt.Errorf("conveyor/redis: create job: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", conveyor.ErrJobAlreadyExists, j.ID)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HMGet(ctx, jobKey(jobID.String()), "data", "version", "heartbeat").Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	j, err := decodeJob(vals)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
	}
	return j, nil
}

// decodeJob builds a job from HMGET data, version, heartbeat. It returns
// nil without error when the hash does not exist.
func decodeJob(vals []any) (*job.Job, error) {
	raw, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}
	var j job.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("conveyor/redis: decode job: %w", err)
	}
	if v, ok := vals[1].(string); ok {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: decode version of %s: %w", j.ID, err)
		}
		j.Version = version
	}
	j.HeartbeatAt = nil
	if hb, ok := vals[2].(string); ok && hb != "" {
		t, err := time.Parse(time.RFC3339Nano, hb)
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: decode heartbeat of %s: %w", j.ID, err)
		}
		j.HeartbeatAt = &t
	}
	return &j, nil
}

// getJobs loads jobs by ID in one pipeline, skipping IDs that vanished.
func (s *Store) getJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*goredis.SliceCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, jID := range ids {
			cmds[i] = p.HMGet(ctx, jobKey(jID), "data", "version", "heartbeat")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: load jobs: %w", err)
	}

	out := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		j, err := decodeJob(cmd.Val())
		if err != nil {
			return nil, err
		}
		if j != nil {
			out = append(out, j)
		}
	}
	return out, nil
}

// FindReady returns the next dispatchable jobs of queue without claiming them.
func (s *Store) FindReady(ctx context.Context, queue string, now time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	ids, err := s.client.ZRangeByScore(ctx, readyKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: score(now),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: find ready: %w", err)
	}
	jobs, err := s.getJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Scores have millisecond resolution; recheck against now.
	jobs = slices.DeleteFunc(jobs, func(j *job.Job) bool { return !j.IsReady(now) })
	slices.SortFunc(jobs, job.CompareReady)
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Transition writes j if the stored status is from and the stored version
// is j.Version.
func (s *Store) Transition(ctx context.Context, j *job.Job, from job.Status) error {
	next := j.Clone()
	next.Version = j.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("conveyor/redis: encode job: %w", err)
	}

	jID := j.ID.String()
	res, err := transitionScript.Run(ctx, s.client,
		[]string{jobKey(jID), readyKey(j.Queue)},
		jID, string(from), strconv.FormatInt(j.Version, 10), data,
		string(j.Status), j.WorkerID.String(), formatTime(j.HeartbeatAt), readyScore(j),
	).Int()
	if err != nil {
		return fmt.Errorf("conveyor/redis: transition job: %w", err)
	}
	switch res {
	case -1:
		return fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, j.ID)
	case 0:
		return fmt.Errorf("%w: job %s expected %s@%d", conveyor.ErrStatusConflict, j.ID, from, j.Version)
	}
	j.Version++
	return nil
}

// Heartbeat records liveness for an active job held by workerID.
func (s *Store) Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID, at time.Time) error {
	res, err := heartbeatScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		workerID.String(), formatTime(&at),
	).Int()
	if err != nil {
		return fmt.Errorf("conveyor/redis: heartbeat: %w", err)
	}
	switch res {
	case -1:
		return fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
	case 0:
		return fmt.Errorf("%w: job %s not held by %s", conveyor.ErrStatusConflict, jobID, workerID)
	}
	return nil
}

// allJobs returns every job ordered by CreatedAt.
func (s *Store) allJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.ZRange(ctx, jobsIndexKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/redis: list job ids: %w", err)
	}
	jobs, err := s.getJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(jobs, func(a, b *job.Job) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return jobs, nil
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}
	jobs = slices.DeleteFunc(jobs, func(j *job.Job) bool {
		if opts.Queue != "" && j.Queue != opts.Queue {
			return true
		}
		return len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, j.Status)
	})
	return paginate(jobs, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Queue == "" && opts.Status == "" {
		n, err := s.client.ZCard(ctx, jobsIndexKey).Result()
		if err != nil {
			return 0, fmt.Errorf("conveyor/redis: count jobs: %w", err)
		}
		return n, nil
	}

	jobs, err := s.allJobs(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, j := range jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
