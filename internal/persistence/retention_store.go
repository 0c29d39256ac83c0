package persistence

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult holds counts of purged records from a retention run.
type RetentionResult struct {
	PurgedTasks       int64 `json:"purged_tasks"`
	PurgedActivityLog int64 `json:"purged_activity_log"`
}

// RunRetention deletes finished task rows and activity-log rows older than
// the configured windows. Each category uses a separate DELETE with its own
// cutoff. The job is idempotent; running it twice in a row is a no-op.
func (s *Store) RunRetention(ctx context.Context, completedDays, activityLogDays int) (RetentionResult, error) {
	var result RetentionResult

	if completedDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -completedDays)
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM tasks
			WHERE status IN ('done', 'archived') AND updated_at < ?;
		`, cutoff)
		if err != nil {
			return result, fmt.Errorf("purge tasks: %w", err)
		}
		result.PurgedTasks, _ = res.RowsAffected()
	}

	if activityLogDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -activityLogDays)
		res, err := s.db.ExecContext(ctx, `DELETE FROM activity_log WHERE created_at < ?;`, cutoff)
		if err != nil {
			return result, fmt.Errorf("purge activity_log: %w", err)
		}
		result.PurgedActivityLog, _ = res.RowsAffected()
	}

	return result, nil
}
