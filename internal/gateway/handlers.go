package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/moslab/mosbot/internal/persistence"
	"github.com/moslab/mosbot/internal/shared"
)

func (s *Server) handleAPITasks(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r)
	case http.MethodPost:
		s.createTask(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" && !persistence.ValidTaskStatus(persistence.TaskStatus(statusFilter)) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", statusFilter))
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	tasks, total, err := s.cfg.Store.ListTasksPaginated(r.Context(), statusFilter, limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"tasks": tasks, "total": total})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	task, err := s.cfg.Store.CreateTask(r.Context(), req.Title, req.Description)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.cfg.Store.AppendActivity(r.Context(), task.ID, "task:create", task.Title); err != nil {
		s.logger.Warn("activity append failed", "request_id", shared.RequestID(r.Context()), "error", err)
	}
	s.writeData(w, http.StatusCreated, task)
}

func (s *Server) handleAPITaskByID(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.SplitN(rest, "/", 2)
	taskID := parts[0]
	if taskID == "" {
		s.writeError(w, http.StatusBadRequest, "task id required")
		return
	}
	r = r.WithContext(shared.WithTaskID(r.Context(), taskID))
	if len(parts) == 2 {
		if parts[1] == "subagents" && r.Method == http.MethodGet {
			s.taskSubagents(w, r, taskID)
			return
		}
		s.writeError(w, http.StatusNotFound, "unknown resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := s.cfg.Store.GetTask(r.Context(), taskID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.writeData(w, http.StatusOK, task)
	case http.MethodPatch:
		s.updateTask(w, r, taskID)
	case http.MethodDelete:
		if err := s.cfg.Store.DeleteTask(r.Context(), taskID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !persistence.ValidTaskStatus(persistence.TaskStatus(req.Status)) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	task, err := s.cfg.Store.UpdateTaskStatus(r.Context(), taskID, persistence.TaskStatus(req.Status))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.cfg.Store.AppendActivity(r.Context(), task.ID, "task:status", req.Status); err != nil {
		s.logger.Warn("activity append failed", "request_id", shared.RequestID(r.Context()), "error", err)
	}
	s.writeData(w, http.StatusOK, task)
}

func (s *Server) taskSubagents(w http.ResponseWriter, r *http.Request, taskID string) {
	start := time.Now()
	attempts, summary, err := s.cfg.Subagents.TaskAttempts(r.Context(), taskID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AggregationDuration.Record(r.Context(), time.Since(start).Seconds())
	}
	s.writeDataMeta(w, http.StatusOK, attempts, summary)
}

func (s *Server) handleAPISubagents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAuth(w, r) {
		return
	}
	start := time.Now()
	snap, retention, err := s.cfg.Subagents.Overview(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AggregationDuration.Record(r.Context(), time.Since(start).Seconds())
	}
	s.writeData(w, http.StatusOK, map[string]any{
		"running":   snap.Running,
		"queued":    snap.Queued,
		"completed": snap.Completed,
		"retention": retention,
	})
}

func (s *Server) handleAPIActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAuth(w, r) {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.cfg.Store.ListActivity(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"activity": entries})
}
