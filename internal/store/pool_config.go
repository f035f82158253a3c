package store

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the connection pool beyond pgx's own defaults.
type PoolOptions struct {
	MaxConns             int32
	MinConns             int32
	MaxConnLifetime      time.Duration
	MaxConnIdleTime      time.Duration
	HealthCheckPeriod    time.Duration
	ConnectTimeout       time.Duration
	PreferSimpleProtocol bool
	ApplicationName      string
}

// DefaultPoolOptions sizes the pool off the host's CPU count, per the rule of
// thumb (2 * cores) + 1, clamped to a sane range for a single service process.
func DefaultPoolOptions() *PoolOptions {
	cpuCount := int32(runtime.NumCPU())
	maxConns := cpuCount*2 + 1
	if maxConns < 10 {
		maxConns = 10
	}
	if maxConns > 50 {
		maxConns = 50
	}

	return &PoolOptions{
		MaxConns:             maxConns,
		MinConns:             cpuCount / 2,
		MaxConnLifetime:      time.Hour,
		MaxConnIdleTime:      30 * time.Minute,
		HealthCheckPeriod:    30 * time.Second,
		ConnectTimeout:       5 * time.Second,
		PreferSimpleProtocol: true,
		ApplicationName:      "constructionrag",
	}
}

// BuildPoolConfig turns a connection string and options into a pgxpool.Config.
func BuildPoolConfig(connString string, opts *PoolOptions) (*pgxpool.Config, error) {
	if opts == nil {
		opts = DefaultPoolOptions()
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnLifetime = opts.MaxConnLifetime
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	cfg.HealthCheckPeriod = opts.HealthCheckPeriod
	cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	cfg.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName

	if opts.PreferSimpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	return cfg, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic re-raised after rollback).
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
