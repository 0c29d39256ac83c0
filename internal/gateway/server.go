// Package gateway serves the mosbot REST API: task CRUD, the subagent
// aggregation views, activity log, and operational endpoints.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/moslab/mosbot/internal/audit"
	mosotel "github.com/moslab/mosbot/internal/otel"
	"github.com/moslab/mosbot/internal/persistence"
	"github.com/moslab/mosbot/internal/shared"
	"github.com/moslab/mosbot/internal/subagents"
	"github.com/moslab/mosbot/internal/workspace"
)

type Config struct {
	Store     *persistence.Store
	Subagents *subagents.Service

	AuthToken string
	Logger    *slog.Logger
	Metrics   *mosotel.Metrics

	// ConfigFingerprint is the hash of active config exposed at /api/config.
	ConfigFingerprint string

	WorkspaceConfigured bool
	GatewayConfigured   bool
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("mosbot/internal/gateway"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.instrument("/metrics", s.handleMetrics))
	mux.HandleFunc("/api/tasks", s.instrument("/api/tasks", s.handleAPITasks))
	mux.HandleFunc("/api/tasks/", s.instrument("/api/tasks/{id}", s.handleAPITaskByID))
	mux.HandleFunc("/api/subagents", s.instrument("/api/subagents", s.handleAPISubagents))
	mux.HandleFunc("/api/activity", s.instrument("/api/activity", s.handleAPIActivity))
	mux.HandleFunc("/api/config", s.instrument("/api/config", s.handleAPIConfig))
	return mux
}

// instrument tags each request with an id, traces it, and records its
// duration.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := shared.WithRequestID(r.Context(), shared.NewRequestID())
		ctx, span := mosotel.StartServerSpan(ctx, s.tracer, "http "+route,
			mosotel.AttrRoute.String(route))
		defer span.End()

		next(w, r.WithContext(ctx))

		elapsed := time.Since(start).Seconds()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(ctx, elapsed,
				metric.WithAttributes(attribute.String("route", route)))
		}
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return false
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return token != "" && token == s.cfg.AuthToken
}

// requireAuth rejects unauthorized requests with the API error envelope
// and records the denial.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.authorize(r) {
		return true
	}
	audit.Record("deny", r.URL.Path, "invalid or missing bearer token", r.RemoteAddr, shared.RequestID(r.Context()))
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AuthRejects.Add(r.Context(), 1)
	}
	s.writeError(w, http.StatusUnauthorized, "unauthorized")
	return false
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (s *Server) writeDataMeta(w http.ResponseWriter, status int, data, meta any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "meta": meta})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "status": status},
	})
}

// writeServiceError maps aggregation and store errors onto the API error
// taxonomy. Exactly one failure class is a 503: workspace connectivity.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, subagents.ErrTaskNotFound), errors.Is(err, persistence.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Task not found")
	case workspace.IsUnavailable(err):
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.WorkspaceFailures.Add(r.Context(), 1)
		}
		s.logger.Error("workspace service unavailable",
			"request_id", shared.RequestID(r.Context()),
			"task_id", shared.TaskID(r.Context()),
			"error", err)
		s.writeError(w, http.StatusServiceUnavailable, "Workspace service unavailable")
	default:
		s.logger.Error("request failed",
			"request_id", shared.RequestID(r.Context()),
			"task_id", shared.TaskID(r.Context()),
			"path", r.URL.Path,
			"error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := s.cfg.Store.Ping(r.Context()) == nil
	payload := map[string]any{
		"healthy":              dbOK,
		"db_ok":                dbOK,
		"workspace_configured": s.cfg.WorkspaceConfigured,
		"gateway_configured":   s.cfg.GatewayConfigured,
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	counts, _ := s.cfg.Store.TaskCounts(r.Context())
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	total := 0
	for _, n := range counts {
		total += n
	}
	payload := map[string]any{
		"tasks_total":     total,
		"tasks_by_status": counts,
		"auth_deny_total": audit.DenyCount(),
		"alloc_bytes":     mem.Alloc,
		"goroutine_count": runtime.NumGoroutine(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAuth(w, r) {
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{
		"fingerprint":          s.cfg.ConfigFingerprint,
		"workspace_configured": s.cfg.WorkspaceConfigured,
		"gateway_configured":   s.cfg.GatewayConfigured,
	})
}
