package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// StatsRepo maintains the daily keeper aggregates.
type StatsRepo struct{ Pool PgxPool }

// NewStatsRepo constructs a StatsRepo with the given pool.
func NewStatsRepo(p PgxPool) *StatsRepo { return &StatsRepo{Pool: p} }

// Bump adds one execution outcome to the given day's row, creating it
// if needed. Fees are only accumulated on success.
func (r *StatsRepo) Bump(ctx context.Context, day time.Time, success bool, feeEarned int64) error {
	date := day.UTC().Truncate(24 * time.Hour)
	if success {
		q := `INSERT INTO keeper_stats (date, successful_executions, total_fees_earned)
		VALUES ($1, 1, $2)
		ON CONFLICT (date) DO UPDATE SET
			successful_executions = keeper_stats.successful_executions + 1,
			total_fees_earned = keeper_stats.total_fees_earned + $2`
		if _, err := r.Pool.Exec(ctx, q, date, feeEarned); err != nil {
			return fmt.Errorf("op=stats.bump: %w: %w", domain.ErrDatabase, err)
		}
		return nil
	}
	q := `INSERT INTO keeper_stats (date, failed_executions)
	VALUES ($1, 1)
	ON CONFLICT (date) DO UPDATE SET
		failed_executions = keeper_stats.failed_executions + 1`
	if _, err := r.Pool.Exec(ctx, q, date); err != nil {
		return fmt.Errorf("op=stats.bump: %w: %w", domain.ErrDatabase, err)
	}
	return nil
}
