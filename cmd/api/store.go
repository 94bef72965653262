package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edgeog/backend/internal/config"
	"github.com/edgeog/backend/internal/kv"
)

// backend is the opened KV store. pool is set only for postgres, which is
// also the only backend that runs River jobs.
type backend struct {
	store   kv.Store
	sweeper kv.Sweeper
	pool    *pgxpool.Pool
	close   func()
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*backend, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("cannot reach PostgreSQL: %w", err)
		}
		st := kv.NewPostgresStore(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate kv table: %w", err)
		}
		log.Info("connected to PostgreSQL")
		return &backend{store: st, sweeper: st, pool: pool, close: pool.Close}, nil

	case "sqlite":
		st, err := kv.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("opened SQLite store", "path", cfg.SQLitePath)
		return &backend{store: st, sweeper: st, close: func() { _ = st.Close() }}, nil

	default:
		log.Warn("using in-memory store; data is lost on restart")
		st := kv.NewMemoryStore()
		return &backend{store: st, sweeper: st, close: func() {}}, nil
	}
}
