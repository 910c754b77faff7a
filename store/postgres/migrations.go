package postgres

import (
	"context"
	"fmt"
	"log/slog"
)

type migration struct {
	name string
	sql  string
}

// migrations run in order; each runs once and is recorded in
// conveyor_migrations.
var migrations = []migration{
	{
		name: "001_create_jobs",
		sql: `
			CREATE TABLE IF NOT EXISTS conveyor_jobs (
				id                  TEXT PRIMARY KEY,
				name                TEXT NOT NULL,
				queue               TEXT NOT NULL,
				status              TEXT NOT NULL,
				payload             JSONB NOT NULL DEFAULT '{}',
				options             JSONB NOT NULL,
				priority            INTEGER NOT NULL DEFAULT 0,
				attempts            INTEGER NOT NULL DEFAULT 0,
				progress            INTEGER NOT NULL DEFAULT 0,
				scheduled_for       TIMESTAMPTZ NOT NULL,
				created_at          TIMESTAMPTZ NOT NULL,
				updated_at          TIMESTAMPTZ NOT NULL,
				processed_at        TIMESTAMPTZ,
				failed_at           TIMESTAMPTZ,
				completed_at        TIMESTAMPTZ,
				failure_reason      TEXT NOT NULL DEFAULT '',
				failure_kind        TEXT NOT NULL DEFAULT '',
				result              JSONB,
				checkpoint          JSONB,
				waiting_on          TEXT[] NOT NULL DEFAULT '{}',
				worker_id           TEXT NOT NULL DEFAULT '',
				heartbeat_at        TIMESTAMPTZ,
				version             BIGINT NOT NULL DEFAULT 0,
				dead_letter_retries INTEGER NOT NULL DEFAULT 0,
				replay_of           TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_ready
				ON conveyor_jobs (queue, priority DESC, scheduled_for ASC, created_at ASC)
				WHERE status IN ('waiting', 'delayed');

			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_status
				ON conveyor_jobs (status, queue);`,
	},
	{
		name: "002_create_dlq",
		sql: `
			CREATE TABLE IF NOT EXISTS conveyor_dlq (
				id             TEXT PRIMARY KEY,
				job_id         TEXT NOT NULL UNIQUE,
				job_name       TEXT NOT NULL,
				queue          TEXT NOT NULL,
				payload        JSONB NOT NULL DEFAULT '{}',
				reason         TEXT NOT NULL DEFAULT '',
				attempts       INTEGER NOT NULL DEFAULT 0,
				max_attempts   INTEGER NOT NULL DEFAULT 0,
				classification TEXT NOT NULL,
				action         TEXT NOT NULL,
				replays        INTEGER NOT NULL DEFAULT 0,
				replay_job_id  TEXT NOT NULL DEFAULT '',
				quarantined    BOOLEAN NOT NULL DEFAULT FALSE,
				failed_at      TIMESTAMPTZ NOT NULL,
				replayed_at    TIMESTAMPTZ,
				created_at     TIMESTAMPTZ NOT NULL,
				updated_at     TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_conveyor_dlq_failed_at
				ON conveyor_dlq (failed_at);`,
	},
	{
		name: "003_jobs_dlq_handled_at",
		sql: `
			ALTER TABLE conveyor_jobs ADD COLUMN IF NOT EXISTS dlq_handled_at TIMESTAMPTZ;`,
	},
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conveyor_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_migrations WHERE name = $1)`, m.name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("conveyor/postgres: check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("conveyor/postgres: begin migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("conveyor/postgres: execute migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO conveyor_migrations (name) VALUES ($1)`, m.name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("conveyor/postgres: record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("conveyor/postgres: commit migration %s: %w", m.name, err)
		}

		s.logger.Info("applied migration", slog.String("name", m.name))
	}
	return nil
}
