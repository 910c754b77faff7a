package job

import (
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
)

// Options controls retries, ordering, and timing of a job.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first. At least 1.
	MaxAttempts int `json:"max_attempts"`

	// Backoff computes the delay between attempts.
	Backoff backoff.Policy `json:"backoff"`

	// Priority orders dispatch. Higher values are dispatched first.
	Priority int `json:"priority"`

	// Delay holds the job back after creation.
	Delay time.Duration `json:"delay,omitempty"`

	// ScheduledFor requests an absolute dispatch instant. It takes precedence
	// over Delay when set.
	ScheduledFor time.Time `json:"scheduled_for,omitzero"`

	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// DefaultOptions returns three attempts with the default backoff.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Backoff:     backoff.Default(),
	}
}

// Validate checks that the options describe a schedulable job.
func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", conveyor.ErrInvalidOptions, o.MaxAttempts)
	}
	if o.Delay < 0 {
		return fmt.Errorf("%w: negative delay %v", conveyor.ErrInvalidOptions, o.Delay)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %v", conveyor.ErrInvalidOptions, o.Timeout)
	}
	if err := o.Backoff.Validate(); err != nil {
		return fmt.Errorf("%w: %w", conveyor.ErrInvalidOptions, err)
	}
	return nil
}

// Apply returns a copy of o with opts applied in order.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option overrides one field of Options.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithBackoff sets the retry delay policy.
func WithBackoff(p backoff.Policy) Option {
	return func(o *Options) { o.Backoff = p }
}

// WithPriority sets the dispatch priority.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithDelay defers the first dispatch by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithScheduledFor defers the first dispatch until t.
func WithScheduledFor(t time.Time) Option {
	return func(o *Options) { o.ScheduledFor = t }
}

// WithTimeout bounds each attempt to d.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}
