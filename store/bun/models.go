package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:conveyor_jobs"`

	ID                  string          `bun:"id,pk"`
	Name                string          `bun:"name,notnull"`
	Queue               string          `bun:"queue,notnull"`
	Status              string          `bun:"status,notnull"`
	Payload             job.Payload     `bun:"payload,type:jsonb,notnull"`
	Options             job.Options     `bun:"options,type:jsonb,notnull"`
	Priority            int             `bun:"priority,notnull"`
	Attempts            int             `bun:"attempts,notnull"`
	Progress            int             `bun:"progress,notnull"`
	ScheduledFor        time.Time       `bun:"scheduled_for,notnull"`
	CreatedAt           time.Time       `bun:"created_at,notnull"`
	UpdatedAt           time.Time       `bun:"updated_at,notnull"`
	ProcessedAt         *time.Time      `bun:"processed_at"`
	FailedAt            *time.Time      `bun:"failed_at"`
	CompletedAt         *time.Time      `bun:"completed_at"`
	FailureReason       string          `bun:"failure_reason,notnull"`
	FailureKind         string          `bun:"failure_kind,notnull"`
	Result              json.RawMessage `bun:"result,type:jsonb,nullzero"`
	Checkpoint          map[string]any  `bun:"checkpoint,type:jsonb"`
	WaitingOn           []string        `bun:"waiting_on,array,notnull"`
	WorkerID            string          `bun:"worker_id,notnull"`
	HeartbeatAt         *time.Time      `bun:"heartbeat_at"`
	Version             int64           `bun:"version,notnull"`
	DeadLetterRetries   int             `bun:"dead_letter_retries,notnull"`
	ReplayOf            string          `bun:"replay_of,notnull"`
	DeadLetterHandledAt *time.Time      `bun:"dlq_handled_at"`
}

func toJobModel(j *job.Job) *jobModel {
	payload := j.Payload
	if payload == nil {
		payload = job.Payload{}
	}
	waitingOn := make([]string, len(j.WaitingOn))
	for i, c := range j.WaitingOn {
		waitingOn[i] = c.String()
	}
	return &jobModel{
		ID:                  j.ID.String(),
		Name:                j.Name,
		Queue:               j.Queue,
		Status:              string(j.Status),
		Payload:             payload,
		Options:             j.Options,
		Priority:            j.Options.Priority,
		Attempts:            j.Attempts,
		Progress:            j.Progress,
		ScheduledFor:        j.ScheduledFor,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
		ProcessedAt:         j.ProcessedAt,
		FailedAt:            j.FailedAt,
		CompletedAt:         j.CompletedAt,
		FailureReason:       j.FailureReason,
		FailureKind:         string(j.FailureKind),
		Result:              j.Result,
		Checkpoint:          j.Checkpoint,
		WaitingOn:           waitingOn,
		WorkerID:            j.WorkerID.String(),
		HeartbeatAt:         j.HeartbeatAt,
		Version:             j.Version,
		DeadLetterRetries:   j.DeadLetterRetries,
		ReplayOf:            j.ReplayOf.String(),
		DeadLetterHandledAt: j.DeadLetterHandledAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse job id %q: %w", m.ID, err)
	}
	workerID, err := parseOptionalID(m.WorkerID, id.PrefixWorker)
	if err != nil {
		return nil, err
	}
	replayOf, err := parseOptionalID(m.ReplayOf, id.PrefixJob)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		ID:                  jobID,
		Name:                m.Name,
		Queue:               m.Queue,
		Status:              job.Status(m.Status),
		Payload:             m.Payload,
		Options:             m.Options,
		Attempts:            m.Attempts,
		Progress:            m.Progress,
		ScheduledFor:        m.ScheduledFor,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
		ProcessedAt:         m.ProcessedAt,
		FailedAt:            m.FailedAt,
		CompletedAt:         m.CompletedAt,
		FailureReason:       m.FailureReason,
		FailureKind:         job.FailureKind(m.FailureKind),
		Checkpoint:          m.Checkpoint,
		WorkerID:            workerID,
		HeartbeatAt:         m.HeartbeatAt,
		Version:             m.Version,
		DeadLetterRetries:   m.DeadLetterRetries,
		ReplayOf:            replayOf,
		DeadLetterHandledAt: m.DeadLetterHandledAt,
	}
	if len(m.Result) > 0 {
		j.Result = m.Result
	}
	for _, c := range m.WaitingOn {
		child, err := id.ParseJobID(c)
		if err != nil {
			return nil, fmt.Errorf("conveyor/bun: parse child id %q: %w", c, err)
		}
		j.WaitingOn = append(j.WaitingOn, child)
	}
	return j, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:conveyor_dlq"`

	ID             string      `bun:"id,pk"`
	JobID          string      `bun:"job_id,notnull,unique"`
	JobName        string      `bun:"job_name,notnull"`
	Queue          string      `bun:"queue,notnull"`
	Payload        job.Payload `bun:"payload,type:jsonb,notnull"`
	Reason         string      `bun:"reason,notnull"`
	Attempts       int         `bun:"attempts,notnull"`
	MaxAttempts    int         `bun:"max_attempts,notnull"`
	Classification string      `bun:"classification,notnull"`
	Action         string      `bun:"action,notnull"`
	Replays        int         `bun:"replays,notnull"`
	ReplayJobID    string      `bun:"replay_job_id,notnull"`
	Quarantined    bool        `bun:"quarantined,notnull"`
	FailedAt       time.Time   `bun:"failed_at,notnull"`
	ReplayedAt     *time.Time  `bun:"replayed_at"`
	CreatedAt      time.Time   `bun:"created_at,notnull"`
	UpdatedAt      time.Time   `bun:"updated_at,notnull"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	payload := e.Payload
	if payload == nil {
		payload = job.Payload{}
	}
	return &dlqEntryModel{
		ID:             e.ID.String(),
		JobID:          e.JobID.String(),
		JobName:        e.JobName,
		Queue:          e.Queue,
		Payload:        payload,
		Reason:         e.Reason,
		Attempts:       e.Attempts,
		MaxAttempts:    e.MaxAttempts,
		Classification: string(e.Classification),
		Action:         string(e.Action),
		Replays:        e.Replays,
		ReplayJobID:    e.ReplayJobID.String(),
		Quarantined:    e.Quarantined,
		FailedAt:       e.FailedAt,
		ReplayedAt:     e.ReplayedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse dlq id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse dlq job id %q: %w", m.JobID, err)
	}
	replayJobID, err := parseOptionalID(m.ReplayJobID, id.PrefixJob)
	if err != nil {
		return nil, err
	}
	return &dlq.Entry{
		ID:             entryID,
		JobID:          jobID,
		JobName:        m.JobName,
		Queue:          m.Queue,
		Payload:        m.Payload,
		Reason:         m.Reason,
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		Classification: dlq.Classification(m.Classification),
		Action:         dlq.Action(m.Action),
		Replays:        m.Replays,
		ReplayJobID:    replayJobID,
		Quarantined:    m.Quarantined,
		FailedAt:       m.FailedAt,
		ReplayedAt:     m.ReplayedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}
