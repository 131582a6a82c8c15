// Package db opens the PostgreSQL pool shared by the activity and submission
// stores and checks that the migrations have been applied.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Pool defaults. The ingest service holds few long queries; most work is
// single-row inserts.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

// NotifyTrigger is the trigger that publishes activity_logs inserts.
const NotifyTrigger = "activity_logs_notify_insert"

// RequiredTables are the tables created by the migrations.
var RequiredTables = []string{"activity_logs", "submissions"}

// ErrSchemaMissing is returned by VerifySchema when a migration has not run.
var ErrSchemaMissing = errors.New("database schema is missing")

// PoolOptions tunes the connection pool. Zero values select the defaults.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to dsn and pings the server before returning the pool.
func Open(ctx context.Context, dsn string, opts PoolOptions) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = DefaultMaxOpenConns
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = DefaultMaxIdleConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = DefaultConnMaxLifetime
	}

	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(opts.MaxOpenConns)
	pool.SetMaxIdleConns(opts.MaxIdleConns)
	pool.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// VerifySchema reports the first required table or trigger that does not
// exist, wrapped in ErrSchemaMissing.
func VerifySchema(ctx context.Context, pool *sql.DB) error {
	for _, table := range RequiredTables {
		var name sql.NullString
		if err := pool.QueryRowContext(ctx, "SELECT to_regclass($1)::text", table).Scan(&name); err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", table, err)
		}
		if !name.Valid {
			return fmt.Errorf("%w: table %s", ErrSchemaMissing, table)
		}
	}

	var exists bool
	err := pool.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = $1 AND NOT tgisinternal)",
		NotifyTrigger).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to inspect trigger %s: %w", NotifyTrigger, err)
	}
	if !exists {
		return fmt.Errorf("%w: trigger %s", ErrSchemaMissing, NotifyTrigger)
	}
	return nil
}
