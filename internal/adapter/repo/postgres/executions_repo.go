package postgres

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// ExecutionRepo appends to and reads the append-only execution log.
type ExecutionRepo struct{ Pool PgxPool }

// NewExecutionRepo constructs an ExecutionRepo with the given pool.
func NewExecutionRepo(p PgxPool) *ExecutionRepo { return &ExecutionRepo{Pool: p} }

// Record appends one execution attempt. Rows are never updated.
func (r *ExecutionRepo) Record(ctx context.Context, rec domain.ExecutionRecord) error {
	q := `INSERT INTO executions (
		job_id, keeper_address, timestamp, success,
		signature, error, gas_used, fee_paid
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q,
		int64(rec.JobID), rec.KeeperAddress, rec.Timestamp, rec.Success,
		rec.Signature, rec.Error, rec.GasUsed, rec.FeePaid)
	if err != nil {
		return fmt.Errorf("op=execution.record: %w: %w", domain.ErrDatabase, err)
	}
	return nil
}

// History returns the newest-first page of executions for a job.
func (r *ExecutionRepo) History(ctx context.Context, jobID uint64, limit int) ([]domain.ExecutionRecord, error) {
	q := `SELECT id, job_id, keeper_address, timestamp, success,
		signature, error, gas_used, fee_paid
	FROM executions
	WHERE job_id = $1
	ORDER BY timestamp DESC
	LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, int64(jobID), limit)
	if err != nil {
		return nil, fmt.Errorf("op=execution.history: %w: %w", domain.ErrDatabase, err)
	}
	defer rows.Close()

	var recs []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec   domain.ExecutionRecord
			jobID int64
		)
		if err := rows.Scan(&rec.ID, &jobID, &rec.KeeperAddress, &rec.Timestamp,
			&rec.Success, &rec.Signature, &rec.Error, &rec.GasUsed, &rec.FeePaid); err != nil {
			return nil, fmt.Errorf("op=execution.history: scan: %w: %w", domain.ErrDatabase, err)
		}
		rec.JobID = uint64(jobID)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=execution.history: rows: %w: %w", domain.ErrDatabase, err)
	}
	return recs, nil
}
