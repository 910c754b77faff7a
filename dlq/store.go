package dlq

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Classification filters by verdict. Empty means all.
	Classification Classification
}

// Store defines the persistence contract for dead letter entries.
type Store interface {
	// PushDLQ adds an entry. Returns conveyor.ErrDLQAlreadyExists when an
	// entry for the same job exists.
	PushDLQ(ctx context.Context, entry *Entry) error

	// UpdateDLQ replaces an existing entry. Returns conveyor.ErrDLQNotFound.
	UpdateDLQ(ctx context.Context, entry *Entry) error

	// GetDLQ retrieves an entry by ID. Returns conveyor.ErrDLQNotFound.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// GetDLQByJob retrieves the entry for a job. Returns conveyor.ErrDLQNotFound.
	GetDLQByJob(ctx context.Context, jobID id.JobID) (*Entry, error)

	// ListDLQ returns entries matching opts, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// PurgeDLQ removes entries with FailedAt before the given time and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
