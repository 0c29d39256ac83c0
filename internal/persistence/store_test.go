package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTaskCRUD(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "first task", "with a description")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID == "" || task.Number != 1 || task.Status != TaskStatusOpen {
		t.Fatalf("unexpected task: %+v", task)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "first task" || got.Description != "with a description" {
		t.Fatalf("unexpected task: %+v", got)
	}

	updated, err := store.UpdateTaskStatus(ctx, task.ID, TaskStatusDone)
	if err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if updated.Status != TaskStatusDone {
		t.Fatalf("status not updated: %+v", updated)
	}

	if err := store.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := store.GetTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}

func TestTaskNumbersIncrement(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		task, err := store.CreateTask(ctx, "task", "")
		if err != nil {
			t.Fatalf("CreateTask %d: %v", i, err)
		}
		if task.Number != i {
			t.Fatalf("want number %d, got %d", i, task.Number)
		}
	}
}

func TestGetTaskNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetTask(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateTaskStatusValidation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "task", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.UpdateTaskStatus(ctx, task.ID, "exploded"); err == nil {
		t.Fatal("want error for unknown status")
	}
	if _, err := store.UpdateTaskStatus(ctx, "missing", TaskStatusDone); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListTasksPaginated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var doneID string
	for i := 0; i < 5; i++ {
		task, err := store.CreateTask(ctx, "task", "")
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if i == 2 {
			doneID = task.ID
		}
	}
	if _, err := store.UpdateTaskStatus(ctx, doneID, TaskStatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	tasks, total, err := store.ListTasksPaginated(ctx, "", 2, 0)
	if err != nil {
		t.Fatalf("ListTasksPaginated: %v", err)
	}
	if total != 5 || len(tasks) != 2 {
		t.Fatalf("want total 5 page 2, got total %d page %d", total, len(tasks))
	}
	if tasks[0].Number < tasks[1].Number {
		t.Fatal("expected newest first")
	}

	done, total, err := store.ListTasksPaginated(ctx, "done", 10, 0)
	if err != nil {
		t.Fatalf("ListTasksPaginated done: %v", err)
	}
	if total != 1 || len(done) != 1 || done[0].ID != doneID {
		t.Fatalf("unexpected filtered result: total=%d tasks=%+v", total, done)
	}
}

func TestFindTaskNumbers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a, _ := store.CreateTask(ctx, "a", "")
	b, _ := store.CreateTask(ctx, "b", "")

	numbers, err := store.FindTaskNumbers(ctx, []string{a.ID, b.ID, a.ID, "", "unknown"})
	if err != nil {
		t.Fatalf("FindTaskNumbers: %v", err)
	}
	if len(numbers) != 2 || numbers[a.ID] != a.Number || numbers[b.ID] != b.Number {
		t.Fatalf("unexpected numbers: %v", numbers)
	}

	empty, err := store.FindTaskNumbers(ctx, nil)
	if err != nil {
		t.Fatalf("FindTaskNumbers empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("want empty map, got %v", empty)
	}
}

func TestTaskExists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task, _ := store.CreateTask(ctx, "here", "")
	ok, err := store.TaskExists(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("want exists, got ok=%v err=%v", ok, err)
	}
	ok, err = store.TaskExists(ctx, "gone")
	if err != nil || ok {
		t.Fatalf("want missing, got ok=%v err=%v", ok, err)
	}
}

func TestActivityLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task, _ := store.CreateTask(ctx, "task", "")
	if err := store.AppendActivity(ctx, task.ID, "task:create", "task"); err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}
	if err := store.AppendActivity(ctx, task.ID, "task:status", "done"); err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}

	entries, err := store.ListActivity(ctx, 10)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	if entries[0].Category != "task:status" {
		t.Fatalf("expected newest first, got %+v", entries[0])
	}
}

func TestRunRetention(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task, _ := store.CreateTask(ctx, "old done", "")
	if _, err := store.UpdateTaskStatus(ctx, task.ID, TaskStatusArchived); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	old := time.Now().UTC().Add(-45 * 24 * time.Hour)
	if _, err := store.DB().ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?;`, old, task.ID); err != nil {
		t.Fatalf("age task: %v", err)
	}
	open, _ := store.CreateTask(ctx, "old but open", "")
	if _, err := store.DB().ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?;`, old, open.ID); err != nil {
		t.Fatalf("age task: %v", err)
	}

	result, err := store.RunRetention(ctx, 30, 90)
	if err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if result.PurgedTasks != 1 {
		t.Fatalf("want 1 purged task, got %d", result.PurgedTasks)
	}
	if _, err := store.GetTask(ctx, open.ID); err != nil {
		t.Fatalf("open task must survive regardless of age: %v", err)
	}

	again, err := store.RunRetention(ctx, 30, 90)
	if err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if again.PurgedTasks != 0 {
		t.Fatal("second run must be a no-op")
	}
}

func TestRetentionDisabled(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task, _ := store.CreateTask(ctx, "done forever", "")
	if _, err := store.UpdateTaskStatus(ctx, task.ID, TaskStatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	old := time.Now().UTC().Add(-400 * 24 * time.Hour)
	if _, err := store.DB().ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?;`, old, task.ID); err != nil {
		t.Fatalf("age task: %v", err)
	}

	result, err := store.RunRetention(ctx, 0, 0)
	if err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if result.PurgedTasks != 0 || result.PurgedActivityLog != 0 {
		t.Fatalf("zero windows must purge nothing, got %+v", result)
	}
}

func TestTaskCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a, _ := store.CreateTask(ctx, "a", "")
	_, _ = store.CreateTask(ctx, "b", "")
	if _, err := store.UpdateTaskStatus(ctx, a.ID, TaskStatusInProgress); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	counts, err := store.TaskCounts(ctx)
	if err != nil {
		t.Fatalf("TaskCounts: %v", err)
	}
	if counts["open"] != 1 || counts["in_progress"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestReopenSchemaLedger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reopen.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := store.CreateTask(context.Background(), "survives reopen", ""); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("second open must pass the checksum check: %v", err)
	}
	defer store.Close()

	tasks, total, err := store.ListTasksPaginated(context.Background(), "", 10, 0)
	if err != nil || total != 1 || len(tasks) != 1 {
		t.Fatalf("data lost across reopen: total=%d err=%v", total, err)
	}
}
