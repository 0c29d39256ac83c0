// Package cron runs the retention purge on its daily schedule, deleting
// finished tasks and old activity-log rows from the store.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	mosotel "github.com/moslab/mosbot/internal/otel"
	"github.com/moslab/mosbot/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the retention scheduler.
type Config struct {
	Store  *persistence.Store
	Logger *slog.Logger

	// Schedule is a 5-field cron expression evaluated in Location.
	Schedule string
	Location *time.Location

	CompletedRetentionDays   int
	ActivityLogRetentionDays int

	Metrics *mosotel.Metrics
}

// Scheduler sleeps until the next scheduled purge instant and runs the
// retention delete. Runs never overlap.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates the cron expression and builds a scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if _, err := cronParser.Parse(cfg.Schedule); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, logger: logger}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention scheduler started", "schedule", s.cfg.Schedule)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("retention scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next, err := NextRunTime(s.cfg.Schedule, time.Now().In(s.cfg.Location))
		if err != nil {
			s.logger.Error("retention: invalid schedule", "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one retention purge. Concurrent calls serialize; the
// second caller runs after the first finishes.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result, err := s.cfg.Store.RunRetention(ctx, s.cfg.CompletedRetentionDays, s.cfg.ActivityLogRetentionDays)
	if err != nil {
		s.logger.Error("retention: purge failed", "error", err)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordsPurged.Add(ctx, result.PurgedTasks+result.PurgedActivityLog)
	}
	s.logger.Info("retention: purge completed",
		"purged_tasks", result.PurgedTasks,
		"purged_activity", result.PurgedActivityLog,
	)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
