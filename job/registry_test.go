package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/conveyor/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func noop(result any) job.Processor {
	return job.ProcessorFunc(func(context.Context, *job.Job, job.Payload) (any, error) {
		return result, nil
	})
}

func TestRegistry_LookupFallsBackToAnyQueue(t *testing.T) {
	r := job.NewRegistry()
	r.Register("send-email", "", noop("any"))
	r.Register("send-email", "priority", noop("priority"))

	p, ok := r.Lookup("send-email", "priority")
	if !ok {
		t.Fatal("expected processor for priority queue")
	}
	if got, _ := p.Process(context.Background(), nil, nil); got != "priority" {
		t.Errorf("queue-specific lookup returned %v", got)
	}

	p, ok = r.Lookup("send-email", "bulk")
	if !ok {
		t.Fatal("expected fallback processor")
	}
	if got, _ := p.Process(context.Background(), nil, nil); got != "any" {
		t.Errorf("fallback lookup returned %v", got)
	}

	if _, ok := r.Lookup("unknown", "bulk"); ok {
		t.Error("expected no processor for unknown name")
	}
}

func TestRegistry_QueueSpecificDoesNotLeak(t *testing.T) {
	r := job.NewRegistry()
	r.Register("resize", "images", noop(nil))
	if _, ok := r.Lookup("resize", "videos"); ok {
		t.Error("queue-specific registration served another queue")
	}
}

func TestRegistry_Keys(t *testing.T) {
	r := job.NewRegistry()
	r.Register("b", "", noop(nil))
	r.Register("a", "q2", noop(nil))
	r.Register("a", "q1", noop(nil))
	keys := r.Keys()
	want := []job.Key{{Name: "a", Queue: "q1"}, {Name: "a", Queue: "q2"}, {Name: "b"}}
	if len(keys) != len(want) {
		t.Fatalf("len = %d, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %+v, want %+v", i, keys[i], want[i])
		}
	}
}

func TestDefinition_DecodesPayload(t *testing.T) {
	r := job.NewRegistry()
	var got emailPayload
	job.RegisterDefinition(r, job.NewDefinition("send-email",
		func(_ context.Context, _ *job.Job, p emailPayload) (any, error) {
			got = p
			return "sent", nil
		}))

	p, ok := r.Lookup("send-email", "emails")
	if !ok {
		t.Fatal("definition not registered")
	}
	payload, err := job.EncodePayload(emailPayload{To: "alice@example.com", Subject: "Hello"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Process(context.Background(), nil, payload)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res != "sent" || got.To != "alice@example.com" || got.Subject != "Hello" {
		t.Errorf("res=%v got=%+v", res, got)
	}
}

func TestDefinition_BadPayloadIsUnrecoverableCorruption(t *testing.T) {
	def := job.NewDefinition("count", func(_ context.Context, _ *job.Job, n int) (any, error) {
		return n, nil
	}).OnQueue("numbers")
	if def.Queue != "numbers" {
		t.Fatalf("OnQueue did not set queue")
	}

	_, err := def.Process(context.Background(), nil, job.Payload{"not": "an int"})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !job.IsUnrecoverable(err) {
		t.Error("decode failure should be unrecoverable")
	}
	if job.KindOf(err) != job.FailureCorruption {
		t.Errorf("KindOf = %q, want data_corruption", job.KindOf(err))
	}
}

func TestReportProgressWithoutReporter(t *testing.T) {
	if err := job.ReportProgress(context.Background(), 10); !errors.Is(err, job.ErrNoReporter) {
		t.Errorf("ReportProgress = %v, want ErrNoReporter", err)
	}
	if err := job.SaveCheckpoint(context.Background(), "k", 1); !errors.Is(err, job.ErrNoReporter) {
		t.Errorf("SaveCheckpoint = %v, want ErrNoReporter", err)
	}
}
