package redis

// All keys are prefixed with "conveyor:" to avoid collisions.
const keyPrefix = "conveyor:"

// ── Job keys ──

// jobKey returns the Hash key for a job: conveyor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// readyKey returns the Sorted Set of pending jobs for a queue, scored by
// ScheduledFor in Unix milliseconds: conveyor:ready:{queue}
func readyKey(queue string) string { return keyPrefix + "ready:" + queue }

// jobsIndexKey is the Sorted Set of every job ID scored by CreatedAt.
const jobsIndexKey = keyPrefix + "jobs"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry document: conveyor:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqByJobKey maps job IDs to DLQ entry IDs.
const dlqByJobKey = keyPrefix + "dlq_by_job"

// dlqCreatedKey is the Sorted Set of entry IDs scored by CreatedAt.
const dlqCreatedKey = keyPrefix + "dlq_created"

// dlqFailedKey is the Sorted Set of entry IDs scored by FailedAt.
const dlqFailedKey = keyPrefix + "dlq_failed"
