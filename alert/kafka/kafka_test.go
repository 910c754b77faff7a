package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kgo "github.com/segmentio/kafka-go"

	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/alert/kafka"
)

type fakeWriter struct {
	msgs   []kgo.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected publish deadline")
	}
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestSender_PublishesJSON(t *testing.T) {
	w := &fakeWriter{}
	s := kafka.NewWithWriter(w, kafka.WithSource("conveyord"))

	err := s.SendAlert(context.Background(), alert.SeverityCritical, "no processor",
		map[string]string{"job_id": "job_123", "queue": "emails"})
	if err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "job_123" {
		t.Errorf("key = %q, want job id", msg.Key)
	}
	var body kafka.Message
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Severity != alert.SeverityCritical || body.Message != "no processor" || body.Source != "conveyord" {
		t.Errorf("body = %+v", body)
	}
	if body.Metadata["queue"] != "emails" {
		t.Errorf("metadata = %v", body.Metadata)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "critical" {
		t.Errorf("headers = %v", msg.Headers)
	}

	if err := s.Close(); err != nil || !w.closed {
		t.Errorf("Close: err=%v closed=%v", err, w.closed)
	}
}

func TestSender_FallsBackToQueueKey(t *testing.T) {
	w := &fakeWriter{}
	_ = kafka.NewWithWriter(w).SendAlert(context.Background(), alert.SeverityWarning, "x", map[string]string{"queue": "bulk"})
	if string(w.msgs[0].Key) != "bulk" {
		t.Errorf("key = %q", w.msgs[0].Key)
	}
}

func TestSender_WrapsWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	err := kafka.NewWithWriter(w).SendAlert(context.Background(), alert.SeverityInfo, "x", nil)
	if err == nil || !errors.Is(err, w.err) {
		t.Errorf("err = %v", err)
	}
}

func TestNew_Validates(t *testing.T) {
	if _, err := kafka.New(" , ", "alerts"); err == nil {
		t.Error("expected error for empty brokers")
	}
	if _, err := kafka.New("localhost:9092", ""); err == nil {
		t.Error("expected error for empty topic")
	}
	s, err := kafka.New("localhost:9092, localhost:9093", "alerts")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = s.Close()
}
