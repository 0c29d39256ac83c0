package subagents

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/moslab/mosbot/internal/agentgw"
	mosotel "github.com/moslab/mosbot/internal/otel"
)

// FileReader reads runtime files from the workspace service.
type FileReader interface {
	Configured() bool
	ReadJSONLines(ctx context.Context, name string) ([]json.RawMessage, error)
	ReadJSONObject(ctx context.Context, name string, v any) error
}

// TaskDirectory resolves task identity against the relational store.
type TaskDirectory interface {
	TaskExists(ctx context.Context, id string) (bool, error)
	FindTaskNumbers(ctx context.Context, ids []string) (map[string]int, error)
}

// SessionGateway enriches attempts from the agent gateway, best-effort.
type SessionGateway interface {
	Configured() bool
	ListSessions(ctx context.Context, filter agentgw.ListFilter) ([]agentgw.Session, error)
	FetchHistory(ctx context.Context, sessionKey string) ([]agentgw.Message, error)
}

// Options carries the tunables the service needs beyond its collaborators.
type Options struct {
	GatewayLookback          time.Duration
	CompletedRetentionDays   int
	ActivityLogRetentionDays int
	Metrics                  *mosotel.Metrics
}

// Service computes subagent views on every read by merging live external
// state. It holds no mutable state between calls.
type Service struct {
	files   FileReader
	tasks   TaskDirectory
	gateway SessionGateway
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *mosotel.Metrics
	schemas *recordSchemas
	opts    Options
}

func NewService(files FileReader, tasks TaskDirectory, gateway SessionGateway, opts Options, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GatewayLookback <= 0 {
		opts.GatewayLookback = 24 * time.Hour
	}
	schemas, err := compileRecordSchemas()
	if err != nil {
		return nil, err
	}
	return &Service{
		files:   files,
		tasks:   tasks,
		gateway: gateway,
		logger:  logger,
		tracer:  otel.Tracer("mosbot/internal/subagents"),
		metrics: opts.Metrics,
		schemas: schemas,
		opts:    opts,
	}, nil
}

func (s *Service) countWorkspaceRead(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.WorkspaceReads.Add(ctx, 1)
	}
}

func (s *Service) countGatewayDegradation(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.GatewayDegradations.Add(ctx, 1)
	}
}

// Collect reads the four runtime files and classifies their records into
// running, queued, and completed attempts. An empty taskID means the
// whole fleet. Only workspace connectivity failures return an error;
// missing or malformed content degrades to empty lists.
func (s *Service) Collect(ctx context.Context, taskID string) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "subagents.collect", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	var (
		activeLines   []json.RawMessage
		queued        queuedFile
		cachedLines   []json.RawMessage
		activityLines []json.RawMessage
	)

	// The four reads are independent, so fire them together. Any one
	// connectivity failure cancels the rest and aborts the collect.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s.countWorkspaceRead(gctx)
		activeLines, err = s.files.ReadJSONLines(gctx, fileSpawnActive)
		return err
	})
	g.Go(func() error {
		s.countWorkspaceRead(gctx)
		return s.files.ReadJSONObject(gctx, fileSpawnRequests, &queued)
	})
	g.Go(func() error {
		var err error
		s.countWorkspaceRead(gctx)
		cachedLines, err = s.files.ReadJSONLines(gctx, fileResultsCache)
		return err
	})
	g.Go(func() error {
		var err error
		s.countWorkspaceRead(gctx)
		activityLines, err = s.files.ReadJSONLines(gctx, fileActivityLog)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{Running: []Attempt{}, Queued: []Attempt{}, Completed: []Attempt{}}

	for _, raw := range activeLines {
		if !validRecord(s.schemas.active, raw) {
			s.logger.Warn("skipping invalid active record", "file", fileSpawnActive)
			continue
		}
		var rec activeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if taskID != "" && rec.TaskID != taskID {
			continue
		}
		snap.Running = append(snap.Running, Attempt{
			TaskID:       rec.TaskID,
			SessionKey:   rec.SessionKey,
			SessionLabel: rec.SessionLabel,
			Status:       StatusRunning,
			Model:        rec.Model,
			StartedAt:    parseTime(rec.StartedAt),
		})
	}

	for _, rec := range queued.Requests {
		if taskID != "" && rec.TaskID != taskID {
			continue
		}
		snap.Queued = append(snap.Queued, Attempt{
			TaskID:   rec.TaskID,
			Title:    rec.Title,
			Status:   StatusQueued,
			Model:    rec.Model,
			QueuedAt: parseTime(rec.QueuedAt),
		})
	}

	snap.Completed = s.collectCompleted(cachedLines, activityLines, taskID)

	if err := s.resolveTaskNumbers(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// collectCompleted dedupes the results cache by session label and
// backfills start times from the activity log.
func (s *Service) collectCompleted(cachedLines, activityLines []json.RawMessage, taskID string) []Attempt {
	// Latest cachedAt wins the whole record. The timestamps are uniform
	// UTC ISO strings, so string order is time order.
	latest := make(map[string]cachedRecord)
	var order []string
	var unlabeled []cachedRecord
	for _, raw := range cachedLines {
		if !validRecord(s.schemas.cached, raw) {
			s.logger.Warn("skipping invalid cached record", "file", fileResultsCache)
			continue
		}
		var rec cachedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if taskID != "" && rec.TaskID != taskID {
			continue
		}
		if rec.SessionLabel == "" {
			unlabeled = append(unlabeled, rec)
			continue
		}
		prev, seen := latest[rec.SessionLabel]
		if !seen {
			order = append(order, rec.SessionLabel)
			latest[rec.SessionLabel] = rec
			continue
		}
		if rec.CachedAt > prev.CachedAt {
			latest[rec.SessionLabel] = rec
		}
	}

	startedAt := s.spawnTimes(activityLines)

	completed := []Attempt{}
	appendOne := func(rec cachedRecord) {
		a := Attempt{
			TaskID:       rec.TaskID,
			SessionLabel: rec.SessionLabel,
			Status:       StatusCompleted,
			Outcome:      rec.Outcome,
			CompletedAt:  parseTime(rec.CachedAt),
		}
		if ts, ok := startedAt[rec.SessionLabel]; ok {
			a.StartedAt = ts
		}
		if a.StartedAt != nil && a.CompletedAt != nil {
			secs := int64(a.CompletedAt.Sub(*a.StartedAt) / time.Second)
			a.DurationSeconds = &secs
		}
		completed = append(completed, a)
	}
	for _, label := range order {
		appendOne(latest[label])
	}
	for _, rec := range unlabeled {
		appendOne(rec)
	}
	return completed
}

// spawnTimes maps session label to spawn timestamp, taking the first
// matching activity-log entry per label.
func (s *Service) spawnTimes(activityLines []json.RawMessage) map[string]*time.Time {
	out := make(map[string]*time.Time)
	for _, raw := range activityLines {
		if !validRecord(s.schemas.activity, raw) {
			s.logger.Warn("skipping invalid activity record", "file", fileActivityLog)
			continue
		}
		event, ok := decodeSpawnEvent(raw)
		if !ok || event.Timestamp == nil {
			continue
		}
		if _, seen := out[event.SessionLabel]; !seen {
			out[event.SessionLabel] = event.Timestamp
		}
	}
	return out
}

// resolveTaskNumbers fills TaskNumber across the snapshot with one
// batched store query. Unknown task ids keep a nil number.
func (s *Service) resolveTaskNumbers(ctx context.Context, snap *Snapshot) error {
	var ids []string
	lists := [][]Attempt{snap.Running, snap.Queued, snap.Completed}
	for _, list := range lists {
		for _, a := range list {
			if a.TaskID != "" {
				ids = append(ids, a.TaskID)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	numbers, err := s.tasks.FindTaskNumbers(ctx, ids)
	if err != nil {
		return err
	}
	for _, list := range lists {
		for i := range list {
			if n, ok := numbers[list[i].TaskID]; ok {
				num := n
				list[i].TaskNumber = &num
			}
		}
	}
	return nil
}

// ErrTaskNotFound reports a task id absent from the relational store.
var ErrTaskNotFound = errors.New("task not found")
