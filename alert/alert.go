// Package alert defines how Conveyor notifies operators.
//
// The queue manager raises a critical alert when a job has no processor;
// the dead letter handler alerts on configuration failures and exhausted
// retries. Transports implement [Sender]. This package ships a logging
// sender, a fan-out, a circuit breaker wrapper (sony/gobreaker), and an
// in-memory recorder for tests; package alert/kafka publishes to Kafka.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Sender delivers an alert. Implementations must be safe for concurrent use.
type Sender interface {
	SendAlert(ctx context.Context, severity Severity, message string, metadata map[string]string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, severity Severity, message string, metadata map[string]string) error

// SendAlert calls f.
func (f SenderFunc) SendAlert(ctx context.Context, severity Severity, message string, metadata map[string]string) error {
	return f(ctx, severity, message, metadata)
}

// ──────────────────────────────────────────────────
// Log sender
// ──────────────────────────────────────────────────

// LogSender writes alerts to a slog logger. Critical alerts log at error
// level, warnings at warn, everything else at info.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a LogSender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// SendAlert implements Sender.
func (s *LogSender) SendAlert(ctx context.Context, severity Severity, message string, metadata map[string]string) error {
	attrs := make([]slog.Attr, 0, len(metadata)+1)
	attrs = append(attrs, slog.String("severity", string(severity)))
	for k, v := range metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	level := slog.LevelInfo
	switch severity {
	case SeverityCritical:
		level = slog.LevelError
	case SeverityWarning:
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "alert: "+message, attrs...)
	return nil
}

// ──────────────────────────────────────────────────
// Fan-out
// ──────────────────────────────────────────────────

// Multi sends every alert to all senders and joins their errors.
type Multi []Sender

// SendAlert implements Sender.
func (m Multi) SendAlert(ctx context.Context, severity Severity, message string, metadata map[string]string) error {
	var errs []error
	for _, s := range m {
		if err := s.SendAlert(ctx, severity, message, metadata); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Recorder
// ──────────────────────────────────────────────────

// Alert is one recorded alert.
type Alert struct {
	Severity Severity
	Message  string
	Metadata map[string]string
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// SendAlert implements Sender.
func (r *Recorder) SendAlert(_ context.Context, severity Severity, message string, metadata map[string]string) error {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	r.mu.Lock()
	r.alerts = append(r.alerts, Alert{Severity: severity, Message: message, Metadata: md})
	r.mu.Unlock()
	return nil
}

// Alerts returns a copy of everything recorded so far.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// Count returns how many alerts of severity were recorded.
func (r *Recorder) Count(severity Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Severity == severity {
			n++
		}
	}
	return n
}
