package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/queue"
)

func TestRegistry_FindByName(t *testing.T) {
	r := queue.NewRegistry(cfg("emails", 2))

	got, err := r.FindByName(context.Background(), "emails")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if got.Concurrency != 2 {
		t.Errorf("Concurrency = %d", got.Concurrency)
	}
	got.Concurrency = 99
	again, _ := r.FindByName(context.Background(), "emails")
	if again.Concurrency != 2 {
		t.Error("FindByName returned shared state")
	}

	if _, err := r.FindByName(context.Background(), "missing"); !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Errorf("missing queue = %v, want ErrQueueNotFound", err)
	}
}

func TestRegistry_PutValidates(t *testing.T) {
	r := queue.NewRegistry()
	if err := r.Put(cfg("q", 0)); !errors.Is(err, conveyor.ErrInvalidConcurrency) {
		t.Errorf("zero concurrency = %v", err)
	}
	bad := cfg("q", 1)
	bad.RateLimit = &queue.RateLimit{MaxOps: 0, Window: time.Second}
	if err := r.Put(bad); !errors.Is(err, conveyor.ErrInvalidQueueConfig) {
		t.Errorf("bad rate limit = %v", err)
	}
	negative := cfg("q", 1)
	negative.MaxRuntime = -time.Second
	if err := r.Put(negative); !errors.Is(err, conveyor.ErrInvalidQueueConfig) {
		t.Errorf("negative max runtime = %v", err)
	}
	noOpts := queue.Config{Name: "q", Concurrency: 1}
	if err := r.Put(noOpts); !errors.Is(err, conveyor.ErrInvalidOptions) {
		t.Errorf("zero default options = %v", err)
	}
}

func TestRegistry_Updates(t *testing.T) {
	r := queue.NewRegistry(cfg("b", 1), cfg("a", 1))
	if err := r.SetDisabled("a", true); err != nil {
		t.Fatal(err)
	}
	if err := r.SetConcurrency("b", 4); err != nil {
		t.Fatal(err)
	}
	a, _ := r.FindByName(context.Background(), "a")
	b, _ := r.FindByName(context.Background(), "b")
	if !a.Disabled || b.Concurrency != 4 {
		t.Errorf("a.Disabled=%v b.Concurrency=%d", a.Disabled, b.Concurrency)
	}
	if err := r.SetConcurrency("b", -1); !errors.Is(err, conveyor.ErrInvalidConcurrency) {
		t.Errorf("invalid update = %v", err)
	}
	if err := r.SetDisabled("zzz", true); !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Errorf("update missing = %v", err)
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
}
