// Package postgres backs the knowledge base and document registries with a
// PostgreSQL connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxConnLifetime bounds how long a pooled connection is reused. The
// registries are read-mostly; recycling connections keeps long-running
// sidecar processes from pinning stale server state.
const maxConnLifetime = time.Hour

// DB holds the pool shared by the registries.
type DB struct {
	Pool *pgxpool.Pool
}

// New opens a pool against databaseURL and verifies connectivity before
// returning.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.MaxConnLifetime = maxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Ping reports whether the pool still reaches the database. Exposed for
// health checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
