// Command conveyord runs a conveyor engine as a standalone worker process.
//
// Configuration comes from CONVEYOR_* environment variables, optionally
// loaded from a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/alert/kafka"
	audithook "github.com/xraph/conveyor/audit_hook"
	"github.com/xraph/conveyor/engine"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
)

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("conveyord exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	logger := newLogger(s.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, release, err := openStore(ctx, s, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", s.Store, err)
	}
	defer func() {
		if err := errors.Join(st.Close(), release()); err != nil {
			logger.Warn("close store", slog.String("error", err.Error()))
		}
	}()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s store: %w", s.Store, err)
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", s.Store, err)
	}

	alerts, closeAlerts, err := newAlerts(s, logger)
	if err != nil {
		return err
	}
	defer closeAlerts()

	eng, err := engine.New(st,
		engine.WithConfig(s.engineConfig()),
		engine.WithLogger(logger),
		engine.WithAlerts(alerts),
		engine.WithQueueConfig(queueConfigs(s)...),
		engine.WithExtension(audithook.New(
			audithook.AlertRecorder(alerts, s.AuditLevel),
			audithook.WithActions(audithook.ActionJobDeadLettered, audithook.ActionJobStalled, audithook.ActionQueuePaused),
			audithook.WithLogger(logger),
		)),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	registerProcessors(eng, logger)

	if err := eng.Start(ctx); err != nil {
		return err
	}
	logger.Info("conveyord running",
		slog.String("store", s.Store),
		slog.Any("queues", s.Queues),
		slog.Int("workers", s.Workers),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Stop applies the configured shutdown timeout.
	return eng.Stop(context.WithoutCancel(ctx))
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// queueConfigs builds one queue per configured name with the shared
// worker count and rate limit.
func queueConfigs(s settings) []queue.Config {
	var rl *queue.RateLimit
	if s.RateLimit > 0 {
		rl = &queue.RateLimit{MaxOps: s.RateLimit, Window: s.RateEvery}
	}
	cfgs := make([]queue.Config, 0, len(s.Queues))
	for _, name := range s.Queues {
		cfgs = append(cfgs, queue.Config{
			Name:              name,
			Concurrency:       s.Workers,
			RateLimit:         rl,
			DefaultJobOptions: job.DefaultOptions(),
		})
	}
	return cfgs
}

// newAlerts logs every alert and, when brokers are configured, also
// publishes it to Kafka behind a circuit breaker.
func newAlerts(s settings, logger *slog.Logger) (alert.Sender, func(), error) {
	logSender := alert.NewLogSender(logger)
	if s.KafkaBrokers == "" {
		return logSender, func() {}, nil
	}

	k, err := kafka.New(s.KafkaBrokers, s.KafkaTopic, kafka.WithSource("conveyord"))
	if err != nil {
		return nil, nil, fmt.Errorf("kafka alerts: %w", err)
	}
	closeFn := func() {
		if err := k.Close(); err != nil {
			logger.Warn("close kafka alerts", slog.String("error", err.Error()))
		}
	}
	breaker := alert.NewBreaker("kafka-alerts", k, alert.WithStateLogger(logger))
	return alert.Multi{logSender, breaker}, closeFn, nil
}
