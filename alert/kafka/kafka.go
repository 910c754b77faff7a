// Package kafka publishes Conveyor alerts to a Kafka topic with
// segmentio/kafka-go. Each alert is one JSON message keyed by the job ID
// when present, so alerts for one job stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/xraph/conveyor/alert"
)

// MessageWriter is the subset of *kafka.Writer the sender uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Message is the JSON body of a published alert.
type Message struct {
	Severity alert.Severity    `json:"severity"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Source   string            `json:"source,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Sender implements alert.Sender over Kafka.
type Sender struct {
	writer  MessageWriter
	timeout time.Duration
	source  string
	now     func() time.Time
}

var _ alert.Sender = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithTimeout bounds each publish. Default 3s.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) { s.timeout = d }
}

// WithSource tags every message with the emitting service name.
func WithSource(source string) Option {
	return func(s *Sender) { s.source = source }
}

// New returns a Sender writing to topic on the comma-separated brokers.
func New(brokersCSV, topic string, opts ...Option) (*Sender, error) {
	brokers := splitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("conveyor/kafka: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("conveyor/kafka: topic is required")
	}
	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}
	return NewWithWriter(w, opts...), nil
}

// NewWithWriter returns a Sender over an existing writer.
func NewWithWriter(w MessageWriter, opts ...Option) *Sender {
	s := &Sender{
		writer:  w,
		timeout: 3 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendAlert publishes one alert message.
func (s *Sender) SendAlert(ctx context.Context, severity alert.Severity, message string, metadata map[string]string) error {
	now := s.now()
	body, err := json.Marshal(Message{
		Severity: severity,
		Message:  message,
		Metadata: metadata,
		Source:   s.source,
		SentAt:   now,
	})
	if err != nil {
		return fmt.Errorf("conveyor/kafka: encode alert: %w", err)
	}

	key := metadata["job_id"]
	if key == "" {
		key = metadata["queue"]
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(key),
		Value: body,
		Time:  now,
		Headers: []kgo.Header{
			{Key: "severity", Value: []byte(severity)},
		},
	}); err != nil {
		return fmt.Errorf("conveyor/kafka: publish alert: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *Sender) Close() error { return s.writer.Close() }

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
