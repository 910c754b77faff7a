package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/job"
)

// RateLimit allows at most MaxOps dispatches per Window.
type RateLimit struct {
	MaxOps int           `json:"max_ops"`
	Window time.Duration `json:"window"`
}

// Config defines per-queue behaviour.
type Config struct {
	// Name is the queue identifier (must match job.Queue).
	Name string `json:"name"`

	// Concurrency is the maximum number of jobs of this queue running at
	// once in one manager.
	Concurrency int `json:"concurrency"`

	// RateLimit throttles dispatch. Nil means unlimited.
	RateLimit *RateLimit `json:"rate_limit,omitempty"`

	// DefaultJobOptions is the base that caller options are applied to.
	DefaultJobOptions job.Options `json:"default_job_options"`

	// Disabled queues reject new jobs and are not dispatched.
	Disabled bool `json:"disabled,omitempty"`

	// MaxBackoff caps the retry delay of jobs on this queue. Zero means no cap.
	MaxBackoff time.Duration `json:"max_backoff,omitempty"`

	// MaxRuntime bounds jobs of this queue whose options set no timeout.
	// Past it plus the cancel grace, a hung processor is force-failed.
	// Zero leaves such jobs unbounded.
	MaxRuntime time.Duration `json:"max_runtime,omitempty"`
}

// Validate checks the config. A zero DefaultJobOptions is not valid; use
// job.DefaultOptions as a starting point.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", conveyor.ErrInvalidQueueConfig)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("queue %q: %w", c.Name, conveyor.ErrInvalidConcurrency)
	}
	if rl := c.RateLimit; rl != nil && (rl.MaxOps <= 0 || rl.Window <= 0) {
		return fmt.Errorf("%w: queue %q: rate limit needs positive max ops and window", conveyor.ErrInvalidQueueConfig, c.Name)
	}
	if c.MaxBackoff < 0 {
		return fmt.Errorf("%w: queue %q: negative max backoff", conveyor.ErrInvalidQueueConfig, c.Name)
	}
	if c.MaxRuntime < 0 {
		return fmt.Errorf("%w: queue %q: negative max runtime", conveyor.ErrInvalidQueueConfig, c.Name)
	}
	if err := c.DefaultJobOptions.Validate(); err != nil {
		return fmt.Errorf("queue %q: default job options: %w", c.Name, err)
	}
	return nil
}

// Store looks up queue configs.
type Store interface {
	// FindByName returns the config for name or conveyor.ErrQueueNotFound.
	FindByName(ctx context.Context, name string) (*Config, error)
}
