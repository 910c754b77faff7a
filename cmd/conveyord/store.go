package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/conveyor/store"
	bunstore "github.com/xraph/conveyor/store/bun"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/store/postgres"
	redisstore "github.com/xraph/conveyor/store/redis"
)

// openStore connects the configured backend. The returned func releases
// connections the store itself does not own.
func openStore(ctx context.Context, s settings, logger *slog.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch s.Store {
	case "postgres":
		pg, err := postgres.New(ctx, s.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return pg, noop, nil

	case "redis":
		opts, err := goredis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return redisstore.New(client, redisstore.WithLogger(logger)), client.Close, nil

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(s.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), db.Close, nil

	default:
		return memory.New(), noop, nil
	}
}
