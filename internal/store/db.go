// Package store is the Run & Document Store (C2, §4.2): the Postgres-backed
// persistence layer for projects, indexing runs, documents, chunks, wiki
// runs, query runs, and checklist runs.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps the pgxpool connection pool handed to every repository in this
// package. It carries no query logic of its own beyond lifecycle and health.
type Pool struct {
	pool *pgxpool.Pool
}

// Open parses databaseURL (read from the DATABASE_URL secret, §6.7) and
// establishes a connection pool using the optimized settings in
// pool_config.go. A failed initial ping is fatal: the caller should treat it
// as a startup error, not attempt to degrade.
func Open(ctx context.Context, databaseURL string, opts *PoolOptions) (*Pool, error) {
	cfg, err := BuildPoolConfig(databaseURL, opts)
	if err != nil {
		return nil, fmt.Errorf("build pool config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Raw exposes the underlying pgxpool.Pool for repository construction.
func (p *Pool) Raw() *pgxpool.Pool { return p.pool }

// Close releases all pooled connections.
func (p *Pool) Close() { p.pool.Close() }

// HealthCheck reports whether the pool can still reach the database.
func (p *Pool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}
