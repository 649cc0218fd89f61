package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// JobRepo persists and loads automation jobs.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `job_id, owner, target_program, target_instruction, trigger_type,
	trigger_params, balance, gas_limit, min_balance, is_active,
	last_checked, last_executed, execution_count, failed_count, cached_data`

// Upsert inserts or replaces a job by job_id, bumping updated_at.
// Counter monotonicity is the caller's responsibility: the refresh
// source must pass non-decreasing execution counts.
func (r *JobRepo) Upsert(ctx context.Context, j domain.Job) error {
	q := `INSERT INTO jobs (
		job_id, owner, target_program, target_instruction, trigger_type,
		trigger_params, balance, gas_limit, min_balance, is_active,
		last_executed, execution_count, failed_count, cached_data
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (job_id) DO UPDATE SET
		owner = EXCLUDED.owner,
		target_program = EXCLUDED.target_program,
		target_instruction = EXCLUDED.target_instruction,
		trigger_type = EXCLUDED.trigger_type,
		trigger_params = EXCLUDED.trigger_params,
		balance = EXCLUDED.balance,
		gas_limit = EXCLUDED.gas_limit,
		min_balance = EXCLUDED.min_balance,
		is_active = EXCLUDED.is_active,
		last_executed = EXCLUDED.last_executed,
		execution_count = EXCLUDED.execution_count,
		failed_count = EXCLUDED.failed_count,
		cached_data = EXCLUDED.cached_data,
		updated_at = NOW()`
	params := []byte(j.TriggerParams)
	if params == nil {
		params = []byte("{}")
	}
	_, err := r.Pool.Exec(ctx, q,
		int64(j.JobID), j.Owner, j.TargetProgram, j.TargetInstruction, j.TriggerType,
		params, j.Balance, j.GasLimit, j.MinBalance, j.IsActive,
		j.LastExecuted, int64(j.ExecutionCount), int64(j.FailedCount), []byte(j.CachedData))
	if err != nil {
		return fmt.Errorf("op=job.upsert: %w: %w", domain.ErrDatabase, err)
	}
	return nil
}

// ActiveJobs returns all active jobs, never-checked first.
func (r *JobRepo) ActiveJobs(ctx context.Context) ([]domain.Job, error) {
	q := `SELECT ` + jobColumns + `
	FROM jobs
	WHERE is_active = true
	ORDER BY last_checked ASC NULLS FIRST`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=job.active: %w: %w", domain.ErrDatabase, err)
	}
	defer rows.Close()
	return scanJobs(rows, "op=job.active")
}

// EligibleJobs returns up to 50 active, funded jobs whose last check is
// older than 30 seconds (or absent), never-executed first.
func (r *JobRepo) EligibleJobs(ctx context.Context, now time.Time) ([]domain.Job, error) {
	q := `SELECT ` + jobColumns + `
	FROM jobs
	WHERE is_active = true
	  AND balance > min_balance
	  AND (last_checked IS NULL OR last_checked < $1 - INTERVAL '30 seconds')
	ORDER BY
	  CASE WHEN last_executed IS NULL THEN 0 ELSE 1 END,
	  last_executed ASC NULLS FIRST
	LIMIT 50`
	rows, err := r.Pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("op=job.eligible: %w: %w", domain.ErrDatabase, err)
	}
	defer rows.Close()
	return scanJobs(rows, "op=job.eligible")
}

// MarkChecked stamps last_checked with the database's current time.
func (r *JobRepo) MarkChecked(ctx context.Context, jobID uint64) error {
	q := `UPDATE jobs SET last_checked = NOW(), updated_at = NOW() WHERE job_id = $1`
	if _, err := r.Pool.Exec(ctx, q, int64(jobID)); err != nil {
		return fmt.Errorf("op=job.mark_checked: %w: %w", domain.ErrDatabase, err)
	}
	return nil
}

func scanJobs(rows pgx.Rows, op string) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		var (
			j                  domain.Job
			jobID              int64
			execCount, failCnt int64
			params, cached     []byte
		)
		if err := rows.Scan(
			&jobID, &j.Owner, &j.TargetProgram, &j.TargetInstruction, &j.TriggerType,
			&params, &j.Balance, &j.GasLimit, &j.MinBalance, &j.IsActive,
			&j.LastChecked, &j.LastExecuted, &execCount, &failCnt, &cached,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w: %w", op, domain.ErrDatabase, err)
		}
		j.JobID = uint64(jobID)
		j.ExecutionCount = uint64(execCount)
		j.FailedCount = uint64(failCnt)
		j.TriggerParams = params
		j.CachedData = cached
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w: %w", op, domain.ErrDatabase, err)
	}
	return jobs, nil
}
