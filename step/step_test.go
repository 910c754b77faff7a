package step_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/worker"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestProcessor_RunsStepsInOrder(t *testing.T) {
	var ran []step.Name
	record := func(n step.Name) step.Func {
		return func(context.Context, *step.State) error {
			ran = append(ran, n)
			return nil
		}
	}
	p := step.New(quiet).
		Handle(step.Notify, record(step.Notify)).
		Handle(step.Initial, record(step.Initial)).
		Handle(step.Transform, func(_ context.Context, s *step.State) error {
			ran = append(ran, step.Transform)
			s.Result = "done"
			return nil
		})

	j := job.New("etl", "q", nil, job.DefaultOptions(), time.Now())
	res, err := p.Process(context.Background(), j, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res != "done" {
		t.Errorf("result = %v", res)
	}
	want := []step.Name{step.Initial, step.Transform, step.Notify}
	if len(ran) != len(want) {
		t.Fatalf("ran = %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("ran = %v, want %v", ran, want)
		}
	}
}

func TestCurrent(t *testing.T) {
	j := &job.Job{}
	if step.Current(j) != step.Initial {
		t.Errorf("empty checkpoint = %s", step.Current(j))
	}
	j.Checkpoint = map[string]any{step.CheckpointKey: "save"}
	if step.Current(j) != step.Save {
		t.Errorf("current = %s, want save", step.Current(j))
	}
	j.Checkpoint[step.CheckpointKey] = "bogus"
	if step.Current(j) != step.Initial {
		t.Errorf("unknown step = %s, want initial", step.Current(j))
	}
}

func TestProcessor_LoadsSavedValuesFromCheckpoint(t *testing.T) {
	j := job.New("etl", "q", nil, job.DefaultOptions(), time.Now())
	j.Checkpoint = map[string]any{
		step.CheckpointKey: string(step.Save),
		"step.rows":        42,
		"step.":            "empty name",
		"other":            "not a step value",
	}

	var loaded map[string]any
	p := step.New(quiet).Handle(step.Save, func(_ context.Context, s *step.State) error {
		loaded = map[string]any{}
		for _, k := range []string{"rows", "", "other"} {
			if v, ok := s.Load(k); ok {
				loaded[k] = v
			}
		}
		return nil
	})
	if _, err := p.Process(context.Background(), j, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(loaded) != 1 || loaded["rows"] != 42 {
		t.Errorf("loaded = %v, want only rows", loaded)
	}
}

func TestHandle_RejectsFinished(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	step.New(quiet).Handle(step.Finished, func(context.Context, *step.State) error { return nil })
}

func TestProcessor_ResumesAtFailedStep(t *testing.T) {
	store := memory.New()
	opts := job.DefaultOptions()
	opts.Backoff = backoff.FixedPolicy(0)
	queues := queue.NewRegistry(queue.Config{Name: "etl", Concurrency: 1, DefaultJobOptions: opts})

	calls := map[step.Name]int{}
	saveFails := true
	p := step.New(quiet).
		Handle(step.Validate, func(context.Context, *step.State) error {
			calls[step.Validate]++
			return nil
		}).
		Handle(step.Transform, func(ctx context.Context, s *step.State) error {
			calls[step.Transform]++
			return s.Save(ctx, "rows", 42)
		}).
		Handle(step.Save, func(_ context.Context, s *step.State) error {
			calls[step.Save]++
			if saveFails {
				saveFails = false
				return errors.New("connection reset")
			}
			rows, _ := s.Load("rows")
			s.Result = rows
			return nil
		})

	processors := job.NewRegistry()
	processors.Register("etl", "etl", p)
	m := worker.New(store, queues, processors,
		worker.WithLogger(quiet),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithQueues("etl"),
	)

	j := job.New("etl", "etl", nil, opts, time.Now().UTC())
	if err := m.Enqueue(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Stop(context.Background()) }()

	deadline := time.Now().Add(3 * time.Second)
	var got *job.Job
	for {
		got, _ = store.GetJob(context.Background(), j.ID)
		if got.Status == job.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want completed", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if calls[step.Validate] != 1 || calls[step.Transform] != 1 || calls[step.Save] != 2 {
		t.Errorf("calls = %v, want validate and transform once, save twice", calls)
	}
	if string(got.Result) != "42" {
		t.Errorf("result = %s, want 42", got.Result)
	}
	if step.Current(got) != step.Finished {
		t.Errorf("final step = %s", step.Current(got))
	}
}
