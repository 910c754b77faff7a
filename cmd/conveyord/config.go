package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/conveyor"
)

// settings is the daemon configuration, read from the environment.
type settings struct {
	LogLevel  string        `env:"CONVEYOR_LOG_LEVEL" envDefault:"info"`
	Store     string        `env:"CONVEYOR_STORE" envDefault:"memory"`
	DSN       string        `env:"CONVEYOR_DSN"`
	RedisURL  string        `env:"CONVEYOR_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Queues    []string      `env:"CONVEYOR_QUEUES" envSeparator:"," envDefault:"default"`
	Workers   int           `env:"CONVEYOR_WORKERS" envDefault:"4"`
	RateLimit int           `env:"CONVEYOR_RATE_LIMIT"`
	RateEvery time.Duration `env:"CONVEYOR_RATE_WINDOW" envDefault:"1s"`

	PollInterval      time.Duration `env:"CONVEYOR_POLL_INTERVAL" envDefault:"1s"`
	ShutdownTimeout   time.Duration `env:"CONVEYOR_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HeartbeatInterval time.Duration `env:"CONVEYOR_HEARTBEAT_INTERVAL" envDefault:"5s"`
	StallThreshold    time.Duration `env:"CONVEYOR_STALL_THRESHOLD" envDefault:"30s"`
	CancelGrace       time.Duration `env:"CONVEYOR_CANCEL_GRACE" envDefault:"10s"`

	DLQSchedule      string `env:"CONVEYOR_DLQ_SCHEDULE" envDefault:"@every 1m"`
	DLQIncludeFailed bool   `env:"CONVEYOR_DLQ_INCLUDE_FAILED"`
	DLQMaxReplays    int    `env:"CONVEYOR_DLQ_MAX_REPLAYS" envDefault:"1"`

	KafkaBrokers string `env:"CONVEYOR_KAFKA_BROKERS"`
	KafkaTopic   string `env:"CONVEYOR_KAFKA_TOPIC" envDefault:"conveyor.alerts"`
	AuditLevel   string `env:"CONVEYOR_AUDIT_ALERT_LEVEL" envDefault:"critical"`
}

func loadSettings() (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parse environment: %w", err)
	}
	switch s.Store {
	case "memory", "postgres", "redis", "bun":
	default:
		return s, fmt.Errorf("unknown store %q: want memory, postgres, redis or bun", s.Store)
	}
	if (s.Store == "postgres" || s.Store == "bun") && s.DSN == "" {
		return s, fmt.Errorf("store %q needs CONVEYOR_DSN", s.Store)
	}
	if s.Workers <= 0 {
		return s, fmt.Errorf("CONVEYOR_WORKERS must be positive, got %d", s.Workers)
	}
	for i, q := range s.Queues {
		s.Queues[i] = strings.TrimSpace(q)
	}
	return s, nil
}

// engineConfig maps the settings onto the engine's runtime tuning.
func (s settings) engineConfig() conveyor.Config {
	cfg := conveyor.DefaultConfig()
	cfg.Queues = s.Queues
	cfg.PollInterval = s.PollInterval
	cfg.ShutdownTimeout = s.ShutdownTimeout
	cfg.HeartbeatInterval = s.HeartbeatInterval
	cfg.StallThreshold = s.StallThreshold
	cfg.CancelGrace = s.CancelGrace
	cfg.DLQSweepSchedule = s.DLQSchedule
	cfg.DLQIncludeFailed = s.DLQIncludeFailed
	cfg.DLQMaxReplays = s.DLQMaxReplays
	return cfg
}
