package dlq

import (
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Classification is the dead letter handler's verdict on why a job failed.
type Classification string

const (
	ClassConfiguration Classification = "configuration"
	ClassExternal      Classification = "external_service"
	ClassCorruption    Classification = "data_corruption"
	ClassUnknown       Classification = "unknown"
)

// Action records what the handler did with an entry.
type Action string

const (
	// ActionAlerted raised a critical alert for an operator to fix config.
	ActionAlerted Action = "alerted"
	// ActionRetried re-queued the job as a new job.
	ActionRetried Action = "retried"
	// ActionExhausted means the retry cap was reached; the job stays dead.
	ActionExhausted Action = "exhausted"
	// ActionQuarantined set the job aside permanently.
	ActionQuarantined Action = "quarantined"
	// ActionLogged only logged the failure.
	ActionLogged Action = "logged"
	// ActionReplayed is an operator-initiated re-queue.
	ActionReplayed Action = "replayed"
)

// Entry records a dead-lettered job and how it was handled. There is at
// most one entry per job.
type Entry struct {
	ID             id.DLQID       `json:"id"`
	JobID          id.JobID       `json:"job_id"`
	JobName        string         `json:"job_name"`
	Queue          string         `json:"queue"`
	Payload        job.Payload    `json:"payload"`
	Reason         string         `json:"reason"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	Classification Classification `json:"classification"`
	Action         Action         `json:"action"`
	// Replays is the job's lineage count of dead letter re-queues.
	Replays     int        `json:"replays"`
	ReplayJobID id.JobID   `json:"replay_job_id,omitempty"`
	Quarantined bool       `json:"quarantined,omitempty"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewEntry builds an entry for a dead-lettered job.
func NewEntry(j *job.Job, class Classification, now time.Time) *Entry {
	failedAt := now
	if j.FailedAt != nil {
		failedAt = *j.FailedAt
	}
	return &Entry{
		ID:             id.NewDLQID(),
		JobID:          j.ID,
		JobName:        j.Name,
		Queue:          j.Queue,
		Payload:        j.Payload.Clone(),
		Reason:         j.FailureReason,
		Attempts:       j.Attempts,
		MaxAttempts:    j.Options.MaxAttempts,
		Classification: class,
		Replays:        j.DeadLetterRetries,
		FailedAt:       failedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
