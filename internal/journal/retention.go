package journal

import (
	"context"
	"fmt"
	"time"
)

// Prune deletes action entries older than keep and delivery failures older
// than a week, returning the number of rows removed.
func (j *Journal) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM actions WHERE created_at < ?",
		now.Add(-keep).UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old actions: %w", err)
	}
	removed, _ := res.RowsAffected()

	res, err = j.db.ExecContext(ctx,
		"DELETE FROM failed_deliveries WHERE created_at < ?",
		now.Add(-7*24*time.Hour).UnixMilli(),
	)
	if err != nil {
		return removed, fmt.Errorf("failed to delete old delivery failures: %w", err)
	}
	n, _ := res.RowsAffected()
	return removed + n, nil
}

// RunRetention prunes every interval until ctx is done.
func (j *Journal) RunRetention(ctx context.Context, interval, keep time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Prune(ctx, keep)
			if err != nil {
				j.logger.Error().Err(err).Msg("journal retention failed")
				continue
			}
			if n > 0 {
				j.logger.Info().Int64("removed", n).Msg("journal retention ran")
			}
		}
	}
}
