// Package postgres implements the keeper's persistence ports on
// PostgreSQL. Repos hold a minimal PgxPool interface so tests can run
// against fakes instead of a live database.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// PgxPool is the subset of pgxpool.Pool the repos use.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool creates a pgx connection pool from a postgresql:// DSN.
func NewPool(ctx context.Context, dsn string, maxConns uint32, connectTimeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=db.parse_config: %w: %w", domain.ErrDatabase, err)
	}
	cfg.MaxConns = int32(maxConns)
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.ConnectTimeout = connectTimeout
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=db.connect: %w: %w", domain.ErrDatabase, err)
	}
	return pool, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id BIGINT PRIMARY KEY,
		owner TEXT NOT NULL,
		target_program TEXT NOT NULL,
		target_instruction TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_params JSONB NOT NULL,
		balance BIGINT NOT NULL,
		gas_limit BIGINT NOT NULL,
		min_balance BIGINT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		last_checked TIMESTAMP WITH TIME ZONE,
		last_executed TIMESTAMP WITH TIME ZONE,
		execution_count BIGINT NOT NULL DEFAULT 0,
		failed_count BIGINT NOT NULL DEFAULT 0,
		cached_data JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id SERIAL PRIMARY KEY,
		job_id BIGINT NOT NULL,
		keeper_address TEXT NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		success BOOLEAN NOT NULL,
		signature TEXT,
		error TEXT,
		gas_used BIGINT,
		fee_paid BIGINT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS keeper_stats (
		date DATE PRIMARY KEY,
		successful_executions INTEGER NOT NULL DEFAULT 0,
		failed_executions INTEGER NOT NULL DEFAULT 0,
		total_fees_earned BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_active ON jobs(is_active) WHERE is_active = true`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_last_checked ON jobs(last_checked)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_job_id ON executions(job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON executions(timestamp)`,
}

// Migrate creates the schema. Every statement is idempotent, so the
// call is safe to repeat on each startup.
func Migrate(ctx context.Context, pool PgxPool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=db.migrate: %w: %w", domain.ErrDatabase, err)
		}
	}
	return nil
}
