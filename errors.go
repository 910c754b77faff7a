package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore = errors.New("conveyor: no store configured")

	// Not found errors.
	ErrJobNotFound       = errors.New("conveyor: job not found")
	ErrQueueNotFound     = errors.New("conveyor: queue not found")
	ErrProcessorNotFound = errors.New("conveyor: processor not found")
	ErrDLQNotFound       = errors.New("conveyor: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")
	ErrDLQAlreadyExists = errors.New("conveyor: dlq entry already exists")
	ErrStatusConflict   = errors.New("conveyor: job status changed concurrently")

	// State errors.
	ErrInvalidStateTransition = errors.New("conveyor: invalid state transition")
	ErrInvalidProgress        = errors.New("conveyor: progress must be between 0 and 100")
	ErrQueueInactive          = errors.New("conveyor: queue is inactive")
	ErrJobNotHeld             = errors.New("conveyor: job is not held by this manager")
	ErrReplayLimit            = errors.New("conveyor: dead letter replay limit reached")

	// Validation errors.
	ErrInvalidConcurrency = errors.New("conveyor: concurrency must be greater than 0")
	ErrInvalidOptions     = errors.New("conveyor: invalid job options")
	ErrInvalidQueueConfig = errors.New("conveyor: invalid queue config")

	// Lifecycle errors.
	ErrManagerStopped = errors.New("conveyor: queue manager stopped")
)
