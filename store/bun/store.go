package bunstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor/store"
)

var _ store.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates the tables and indexes described by the models.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{(*jobModel)(nil), (*dlqEntryModel)(nil)}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("conveyor/bun: create table: %w", err)
		}
	}

	// Tables created before the column existed.
	_, err := s.db.NewAddColumn().
		Model((*jobModel)(nil)).
		ColumnExpr("dlq_handled_at TIMESTAMPTZ").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: add column dlq_handled_at: %w", err)
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*jobModel)(nil), "idx_conveyor_jobs_ready", []string{"queue", "status", "scheduled_for"}},
		{(*jobModel)(nil), "idx_conveyor_jobs_created", []string{"created_at"}},
		{(*dlqEntryModel)(nil), "idx_conveyor_dlq_failed_at", []string{"failed_at"}},
	}
	for _, idx := range indexes {
		_, err := s.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("conveyor/bun: create index %s: %w", idx.name, err)
		}
	}

	s.logger.Info("bun schema ready")
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
