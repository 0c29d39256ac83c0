package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateTask inserts a new open task and returns it with its assigned number.
func (s *Store) CreateTask(ctx context.Context, title, description string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title must be non-empty")
	}
	id := uuid.NewString()

	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, title, description, status)
			VALUES (?, ?, ?, 'open');
		`, id, title, description)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask returns the task with the given id, or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, title, description, status, created_at, updated_at
		FROM tasks WHERE id = ?;
	`, id)
	var t Task
	if err := row.Scan(&t.ID, &t.Number, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

// ListTasksPaginated returns tasks, newest first, optionally filtered by
// status, along with the total matching count.
func (s *Store) ListTasksPaginated(ctx context.Context, status string, limit, offset int) ([]Task, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		rows  *sql.Rows
		total int
		err   error
	)
	if status != "" {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE status = ?;`, status).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count tasks: %w", err)
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, number, title, description, status, created_at, updated_at
			FROM tasks WHERE status = ?
			ORDER BY number DESC LIMIT ? OFFSET ?;
		`, status, limit, offset)
	} else {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks;`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count tasks: %w", err)
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, number, title, description, status, created_at, updated_at
			FROM tasks
			ORDER BY number DESC LIMIT ? OFFSET ?;
		`, limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Number, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("task rows: %w", err)
	}
	return out, total, nil
}

// UpdateTaskStatus moves a task to the given status and returns the
// updated row, or ErrNotFound.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) (*Task, error) {
	if !ValidTaskStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, status, id)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetTask(ctx, id)
}

// DeleteTask removes a task. Returns ErrNotFound when no row matched.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskExists reports whether a task row with the given id exists.
func (s *Store) TaskExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("task exists: %w", err)
	}
	return true, nil
}

// FindTaskNumbers resolves task numbers for a batch of task ids in one
// query. Unknown ids are simply absent from the result map.
func (s *Store) FindTaskNumbers(ctx context.Context, ids []string) (map[string]int, error) {
	out := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// Deduplicate before building the IN clause.
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(unique))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(unique))
	for i, id := range unique {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, number FROM tasks WHERE id IN (`+placeholders+`);`, args...)
	if err != nil {
		return nil, fmt.Errorf("query task numbers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var number int
		if err := rows.Scan(&id, &number); err != nil {
			return nil, fmt.Errorf("scan task number: %w", err)
		}
		out[id] = number
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task number rows: %w", err)
	}
	return out, nil
}

// TaskCounts returns the number of tasks per status.
func (s *Store) TaskCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		out[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task count rows: %w", err)
	}
	return out, nil
}
