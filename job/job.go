package job

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/xraph/conveyor/id"
)

// Status is the lifecycle status of a job.
type Status string

const (
	// StatusWaiting means the job is ready as soon as ScheduledFor passes.
	StatusWaiting Status = "waiting"
	// StatusDelayed means the job is held back until ScheduledFor.
	StatusDelayed Status = "delayed"
	// StatusActive means a worker holds the job and is running it.
	StatusActive Status = "active"
	// StatusSuspended means the job waits for child jobs to finish.
	StatusSuspended Status = "suspended"
	// StatusCompleted means the processor succeeded. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the job left the dispatch path after failing.
	StatusFailed Status = "failed"
	// StatusDeadLetter means the job was handed to the dead letter path. Terminal.
	StatusDeadLetter Status = "dead_letter"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// IsPending reports whether the job is eligible for dispatch once due.
func (s Status) IsPending() bool {
	return s == StatusWaiting || s == StatusDelayed
}

// FailureKind classifies why a job failed. It is recorded from typed
// processor errors and used by the dead letter classifier.
type FailureKind string

const (
	FailureUnknown       FailureKind = ""
	FailureConfiguration FailureKind = "configuration"
	FailureExternal      FailureKind = "external_service"
	FailureCorruption    FailureKind = "data_corruption"
)

// CancelReason is the failure reason recorded for canceled jobs.
const CancelReason = "canceled"

// Payload is the opaque job input. It must be JSON-serializable.
type Payload map[string]any

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Job is a unit of work scheduled on a queue.
type Job struct {
	ID       id.JobID `json:"id"`
	Name     string   `json:"name"`
	Queue    string   `json:"queue"`
	Status   Status   `json:"status"`
	Payload  Payload  `json:"payload"`
	Options  Options  `json:"options"`
	Attempts int      `json:"attempts"`
	Progress int      `json:"progress"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	FailureReason string          `json:"failure_reason,omitempty"`
	FailureKind   FailureKind     `json:"failure_kind,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Checkpoint    map[string]any  `json:"checkpoint,omitempty"`
	WaitingOn     []id.JobID      `json:"waiting_on,omitempty"`

	WorkerID    id.WorkerID `json:"worker_id,omitempty"`
	HeartbeatAt *time.Time  `json:"heartbeat_at,omitempty"`

	// Version is bumped by the store on every successful Transition.
	Version int64 `json:"version"`

	DeadLetterRetries int      `json:"dead_letter_retries,omitempty"`
	ReplayOf          id.JobID `json:"replay_of,omitempty"`

	// DeadLetterHandledAt is set once the dead letter handler has acted on
	// the job. It outlives the handler's entry, so purging entries never
	// makes a job eligible again.
	DeadLetterHandledAt *time.Time `json:"dead_letter_handled_at,omitempty"`
}

// New builds a job from already merged and validated options. The job is
// DELAYED when opts.Delay is positive or opts.ScheduledFor lies after now,
// and WAITING otherwise.
func New(name, queue string, payload Payload, opts Options, now time.Time) *Job {
	j := &Job{
		ID:           id.NewJobID(),
		Name:         name,
		Queue:        queue,
		Status:       StatusWaiting,
		Payload:      payload.Clone(),
		Options:      opts,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	switch {
	case !opts.ScheduledFor.IsZero() && opts.ScheduledFor.After(now):
		j.Status = StatusDelayed
		j.ScheduledFor = opts.ScheduledFor
	case opts.Delay > 0:
		j.Status = StatusDelayed
		j.ScheduledFor = now.Add(opts.Delay)
	}
	return j
}

// IsReady reports whether the dispatcher may claim the job at now.
func (j *Job) IsReady(now time.Time) bool {
	return j.Status.IsPending() && !j.ScheduledFor.After(now)
}

// Clone returns a deep copy of the job's mutable state.
func (j *Job) Clone() *Job {
	c := *j
	c.Payload = j.Payload.Clone()
	c.Checkpoint = maps.Clone(j.Checkpoint)
	c.WaitingOn = slices.Clone(j.WaitingOn)
	c.Result = slices.Clone(j.Result)
	c.ProcessedAt = cloneTime(j.ProcessedAt)
	c.FailedAt = cloneTime(j.FailedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.HeartbeatAt = cloneTime(j.HeartbeatAt)
	c.DeadLetterHandledAt = cloneTime(j.DeadLetterHandledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CompareReady orders jobs for dispatch: priority descending, then
// ScheduledFor ascending, then CreatedAt ascending.
func CompareReady(a, b *Job) int {
	if a.Options.Priority != b.Options.Priority {
		if a.Options.Priority > b.Options.Priority {
			return -1
		}
		return 1
	}
	if c := a.ScheduledFor.Compare(b.ScheduledFor); c != 0 {
		return c
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}
