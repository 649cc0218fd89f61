package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// CleanupService enforces data retention on the execution log and the
// daily stats table.
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
}

// NewCleanupService creates a cleanup service. A non-positive retention
// falls back to 90 days.
func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData deletes executions older than the retention window and
// stats rows older than a year. The day count is bound as a numeric
// parameter, not spliced into the interval literal.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM executions WHERE created_at < NOW() - $1 * INTERVAL '1 day'`,
		s.RetentionDays)
	if err != nil {
		return fmt.Errorf("op=cleanup.executions: %w: %w", domain.ErrDatabase, err)
	}
	deletedExecutions := tag.RowsAffected()

	tag, err = s.Pool.Exec(ctx,
		`DELETE FROM keeper_stats WHERE date < CURRENT_DATE - INTERVAL '365 days'`)
	if err != nil {
		return fmt.Errorf("op=cleanup.stats: %w: %w", domain.ErrDatabase, err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_executions", deletedExecutions),
		slog.Int64("deleted_stats", tag.RowsAffected()),
		slog.Int("retention_days", s.RetentionDays))
	return nil
}

// RunPeriodic runs cleanup once immediately and then on the given
// interval until the context is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
