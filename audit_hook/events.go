package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued     = "job.enqueued"
	ActionJobActive       = "job.active"
	ActionJobCompleted    = "job.completed"
	ActionJobFailed       = "job.failed"
	ActionJobRetrying     = "job.retrying"
	ActionJobDeadLettered = "job.dead_lettered"
	ActionJobSuspended    = "job.suspended"
	ActionJobStalled      = "job.stalled"
	ActionQueuePaused     = "queue.paused"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "conveyor.job"
	CategoryQueue = "conveyor.queue"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceQueue = "queue"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobActive,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDeadLettered,
		ActionJobSuspended,
		ActionJobStalled,
		ActionQueuePaused,
	}
}
