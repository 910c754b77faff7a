package conveyor

import "time"

// Config holds the runtime tuning for the queue manager and the dead
// letter handler.
type Config struct {
	// Queues is the list of queues served when the manager starts. Queues
	// enqueued later are served lazily.
	Queues []string

	// PollInterval bounds how long an idle pool sleeps before checking for
	// ready jobs again. Enqueue wakes the pool earlier.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs to
	// drain on shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often held jobs get their heartbeat
	// persisted. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// StallThreshold is how long an active job may go without a heartbeat
	// before it is force-failed. Zero disables stall detection.
	StallThreshold time.Duration

	// CancelGrace is how long a processor may keep running after its
	// context was cancelled before the job is force-failed.
	CancelGrace time.Duration

	// PersistRetries is how many times a failed status write is retried.
	// These retries never count against the job's attempt budget.
	PersistRetries int

	// PersistBackoff is the delay before the first persistence retry. It
	// doubles on every further retry.
	PersistBackoff time.Duration

	// DLQSweepSchedule is the cron expression for dead letter sweeps.
	DLQSweepSchedule string

	// DLQIncludeFailed makes the sweep escalate FAILED jobs too.
	DLQIncludeFailed bool

	// DLQMaxReplays caps how many times a job lineage may be re-queued from
	// the dead letter queue.
	DLQMaxReplays int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		StallThreshold:    30 * time.Second,
		CancelGrace:       10 * time.Second,
		PersistRetries:    5,
		PersistBackoff:    50 * time.Millisecond,
		DLQSweepSchedule:  "@every 1m",
		DLQMaxReplays:     1,
	}
}
