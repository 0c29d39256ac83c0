package persistence

import (
	"context"
	"fmt"
	"time"
)

// ActivityEntry is one row of the append-only activity log.
type ActivityEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id,omitempty"`
	Category  string    `json:"category"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendActivity records one activity-log row. taskID may be empty for
// system-level events.
func (s *Store) AppendActivity(ctx context.Context, taskID, category, detail string) error {
	if category == "" {
		return fmt.Errorf("category must be non-empty")
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO activity_log (task_id, category, detail)
			VALUES (?, ?, ?);
		`, taskID, category, detail)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest activity rows, newest first.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, category, detail, created_at
		FROM activity_log
		ORDER BY id DESC LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Category, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity rows: %w", err)
	}
	return out, nil
}
