package main

import (
	"testing"
	"time"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if s.Store != "memory" {
		t.Errorf("Store = %q, want memory", s.Store)
	}
	if len(s.Queues) != 1 || s.Queues[0] != "default" {
		t.Errorf("Queues = %v, want [default]", s.Queues)
	}
	cfg := s.engineConfig()
	if cfg.ShutdownTimeout != 30*time.Second || cfg.DLQMaxReplays != 1 {
		t.Errorf("engineConfig = %+v", cfg)
	}
}

func TestLoadSettings_FromEnvironment(t *testing.T) {
	t.Setenv("CONVEYOR_QUEUES", "emails, reports")
	t.Setenv("CONVEYOR_WORKERS", "8")
	t.Setenv("CONVEYOR_RATE_LIMIT", "50")
	t.Setenv("CONVEYOR_RATE_WINDOW", "1m")
	t.Setenv("CONVEYOR_DLQ_INCLUDE_FAILED", "true")

	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if len(s.Queues) != 2 || s.Queues[1] != "reports" {
		t.Fatalf("Queues = %q", s.Queues)
	}

	cfgs := queueConfigs(s)
	if len(cfgs) != 2 {
		t.Fatalf("queueConfigs len = %d, want 2", len(cfgs))
	}
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			t.Errorf("queue %q: %v", c.Name, err)
		}
		if c.Concurrency != 8 || c.RateLimit == nil || c.RateLimit.MaxOps != 50 || c.RateLimit.Window != time.Minute {
			t.Errorf("queue %q = %+v", c.Name, c)
		}
	}
	if !s.engineConfig().DLQIncludeFailed {
		t.Error("DLQIncludeFailed not applied")
	}
}

func TestLoadSettings_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown store", "CONVEYOR_STORE", "sqlite"},
		{"postgres without dsn", "CONVEYOR_STORE", "postgres"},
		{"zero workers", "CONVEYOR_WORKERS", "0"},
		{"bad duration", "CONVEYOR_POLL_INTERVAL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := loadSettings(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
