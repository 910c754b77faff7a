package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker stops calling a failing transport for a while so a broken alert
// channel cannot slow down the callers. While open, SendAlert returns
// gobreaker.ErrOpenState immediately.
type Breaker struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

// BreakerOption configures a Breaker.
type BreakerOption func(*gobreaker.Settings)

// WithOpenTimeout sets how long the breaker stays open before probing.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) { s.Timeout = d }
}

// WithTripAfter opens the breaker after n consecutive failures.
func WithTripAfter(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}
}

// WithStateLogger logs breaker state changes.
func WithStateLogger(logger *slog.Logger) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("alert breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}
	}
}

// NewBreaker wraps next in a circuit breaker. By default it opens after
// five consecutive failures and probes again after thirty seconds.
func NewBreaker(name string, next Sender, opts ...BreakerOption) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// SendAlert implements Sender.
func (b *Breaker) SendAlert(ctx context.Context, severity Severity, message string, metadata map[string]string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.SendAlert(ctx, severity, message, metadata)
	})
	return err
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
