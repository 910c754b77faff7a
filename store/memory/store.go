// Package memory provides a fully in-memory implementation of store.Store.
// It is safe for concurrent access and intended for unit testing and
// development. Every read returns a deep copy.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-memory job and dead letter store.
type Store struct {
	mu sync.RWMutex

	jobs     map[id.JobID]*job.Job
	dlqs     map[id.DLQID]*dlq.Entry
	dlqByJob map[id.JobID]id.DLQID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[id.JobID]*job.Job),
		dlqs:     make(map[id.DLQID]*dlq.Entry),
		dlqByJob: make(map[id.JobID]id.DLQID),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("%w: %s", conveyor.ErrJobAlreadyExists, j.ID)
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
	}
	return j.Clone(), nil
}

// FindReady returns due pending jobs of queue in dispatch order.
func (m *Store) FindReady(_ context.Context, queue string, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ready []*job.Job
	for _, j := range m.jobs {
		if j.Queue == queue && j.IsReady(now) {
			ready = append(ready, j)
		}
	}
	slices.SortFunc(ready, job.CompareReady)
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]*job.Job, len(ready))
	for i, j := range ready {
		out[i] = j.Clone()
	}
	return out, nil
}

// Transition replaces the stored job when status and version still match.
func (m *Store) Transition(_ context.Context, j *job.Job, from job.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[j.ID]
	if !ok {
		return fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, j.ID)
	}
	if cur.Status != from || cur.Version != j.Version {
		return fmt.Errorf("%w: job %s is %s@%d, expected %s@%d",
			conveyor.ErrStatusConflict, j.ID, cur.Status, cur.Version, from, j.Version)
	}
	j.Version++
	m.jobs[j.ID] = j.Clone()
	return nil
}

// Heartbeat records liveness for an active job held by workerID.
func (m *Store) Heartbeat(_ context.Context, jobID id.JobID, workerID id.WorkerID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", conveyor.ErrJobNotFound, jobID)
	}
	if j.Status != job.StatusActive || j.WorkerID != workerID {
		return fmt.Errorf("%w: job %s not held by %s", conveyor.ErrStatusConflict, jobID, workerID)
	}
	j.HeartbeatAt = &at
	return nil
}

// ListJobs returns jobs matching opts ordered by CreatedAt.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, j.Status) {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
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

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an entry, at most one per job.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.dlqByJob[entry.JobID]; exists {
		return fmt.Errorf("%w: job %s", conveyor.ErrDLQAlreadyExists, entry.JobID)
	}
	if _, exists := m.dlqs[entry.ID]; exists {
		return fmt.Errorf("%w: %s", conveyor.ErrDLQAlreadyExists, entry.ID)
	}
	m.dlqs[entry.ID] = cloneEntry(entry)
	m.dlqByJob[entry.JobID] = entry.ID
	return nil
}

// UpdateDLQ replaces an existing entry.
func (m *Store) UpdateDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dlqs[entry.ID]; !ok {
		return fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, entry.ID)
	}
	m.dlqs[entry.ID] = cloneEntry(entry)
	return nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrDLQNotFound, entryID)
	}
	return cloneEntry(e), nil
}

// GetDLQByJob retrieves the entry recorded for a job.
func (m *Store) GetDLQByJob(_ context.Context, jobID id.JobID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entryID, ok := m.dlqByJob[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", conveyor.ErrDLQNotFound, jobID)
	}
	return cloneEntry(m.dlqs[entryID]), nil
}

// ListDLQ returns entries matching opts, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.Classification != "" && e.Classification != opts.Classification {
			continue
		}
		result = append(result, cloneEntry(e))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			delete(m.dlqByJob, e.JobID)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

func cloneEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	cp.Payload = e.Payload.Clone()
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		cp.ReplayedAt = &t
	}
	return &cp
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
