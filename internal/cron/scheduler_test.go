package cron

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/moslab/mosbot/internal/persistence"

	_ "github.com/mattn/go-sqlite3"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNextRunTime(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	after := time.Date(2026, 3, 5, 1, 30, 0, 0, zone)

	next, err := NextRunTime("0 3 * * *", after)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want := time.Date(2026, 3, 5, 3, 0, 0, 0, zone)
	if !next.Equal(want) {
		t.Fatalf("want %v, got %v", want, next)
	}

	next, err = NextRunTime("0 3 * * *", want)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	if !next.Equal(want.Add(24 * time.Hour)) {
		t.Fatalf("run at the boundary must advance a day, got %v", next)
	}
}

func TestNewSchedulerRejectsBadExpression(t *testing.T) {
	_, err := NewScheduler(Config{Store: openTestStore(t), Schedule: "not a cron"})
	if err == nil {
		t.Fatal("want parse error for invalid expression")
	}
}

func TestRunOncePurges(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "ancient work", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := store.UpdateTaskStatus(ctx, task.ID, persistence.TaskStatusDone); err != nil {
		t.Fatalf("update status: %v", err)
	}
	// Age the row past the retention window.
	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	if _, err := store.DB().ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?;`, old, task.ID); err != nil {
		t.Fatalf("age task: %v", err)
	}

	keep, err := store.CreateTask(ctx, "recent work", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	sched, err := NewScheduler(Config{
		Store:                    store,
		Logger:                   slog.New(slog.DiscardHandler),
		Schedule:                 "0 3 * * *",
		CompletedRetentionDays:   30,
		ActivityLogRetentionDays: 90,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	sched.RunOnce(ctx)

	if _, err := store.GetTask(ctx, task.ID); err == nil {
		t.Fatal("aged done task must be purged")
	}
	if _, err := store.GetTask(ctx, keep.ID); err != nil {
		t.Fatalf("recent task must survive the purge: %v", err)
	}
}
