// Package gateway exposes the TaskBell REST and WebSocket API. All task
// routes are scoped to the authenticated owner; reminder state changes go
// through the state machine, never straight to the store.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/basket/taskbell/internal/bus"
	"github.com/basket/taskbell/internal/otel"
	"github.com/basket/taskbell/internal/persistence"
	"github.com/basket/taskbell/internal/reminder"
	"github.com/basket/taskbell/internal/shared"
)

// Version is reported by /api/status.
const Version = "0.3.0"

type Config struct {
	Store   *persistence.Store
	Machine *reminder.Machine
	Bus     *bus.Bus
	Logger  *slog.Logger
	Metrics *otel.Metrics // nil disables request metrics

	// DefaultOwner scopes requests when auth is disabled and no owner is
	// present in the context.
	DefaultOwner string

	// ConfigFingerprint is the hash of active config exposed in /api/status.
	ConfigFingerprint string
}

type Server struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskByID)
	mux.HandleFunc("/api/reminders/pending", s.handlePendingReminders)
	mux.HandleFunc("/api/reminders/fired", s.handleFiredReminders)
	return s.withRequestMetrics(mux)
}

func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	if s.cfg.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.cfg.Metrics.RequestDuration.Record(r.Context(), time.Since(started).Seconds())
	})
}

// owner resolves the request's owner scope: the authenticated key's email,
// or the configured default when auth is off.
func (s *Server) owner(ctx context.Context) string {
	if o := shared.Owner(ctx); o != "" {
		return o
	}
	return s.cfg.DefaultOwner
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.cfg.Store.CountTasks(r.Context()); err != nil {
		dbOK = false
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy": dbOK,
		"db_ok":   dbOK,
		"version": Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counts, err := s.cfg.Store.CountTasks(r.Context())
	if err != nil {
		s.internalError(w, r, "count tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":            Version,
		"config_fingerprint": s.cfg.ConfigFingerprint,
		"counts":             counts,
	})
}

// createTaskRequest is the POST /api/tasks body. Times are RFC3339.
type createTaskRequest struct {
	Name         string                     `json:"name"`
	Description  string                     `json:"description"`
	Priority     persistence.Priority       `json:"priority"`
	DueAt        *time.Time                 `json:"due_at"`
	ReminderAt   *time.Time                 `json:"reminder_at"`
	SubReminders []persistence.SubReminder `json:"sub_reminders"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeCompleted := r.URL.Query().Get("include_completed") == "true"
		tasks, err := s.cfg.Store.ListTasks(r.Context(), s.owner(r.Context()), includeCompleted)
		if err != nil {
			s.internalError(w, r, "list tasks", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})

	case http.MethodPost:
		var req createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			badRequest(w, "name is required")
			return
		}
		if req.Priority == "" {
			req.Priority = persistence.PriorityLow
		}
		task := &persistence.Task{
			OwnerEmail:   s.owner(r.Context()),
			Name:         strings.TrimSpace(req.Name),
			Description:  req.Description,
			Priority:     req.Priority,
			DueAt:        req.DueAt,
			ReminderAt:   req.ReminderAt,
			SubReminders: req.SubReminders,
		}
		if err := s.cfg.Store.CreateTask(r.Context(), task); err != nil {
			badRequest(w, err.Error())
			return
		}
		s.publishTask(bus.TopicTaskUpdated, task)
		writeJSON(w, http.StatusCreated, task)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTaskByID routes /api/tasks/{id} and the action sub-paths beneath it.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch action {
	case "":
		s.handleTaskCRUD(w, r, id)
	case "complete":
		s.handleComplete(w, r, id)
	case "reminder-progress":
		s.handleReminderProgress(w, r, id)
	case "reminder-triggered":
		s.handleReminderTriggered(w, r, id)
	case "history":
		s.handleRingHistory(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// updateTaskRequest is the PUT /api/tasks/{id} body. Absent fields stay
// untouched; explicit nulls clear the due date or the reminder.
type updateTaskRequest struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Priority    *persistence.Priority `json:"priority"`
	DueAt       *time.Time            `json:"due_at"`
	ClearDueAt  bool                  `json:"clear_due_at"`
	ReminderAt  *time.Time            `json:"reminder_at"`
	ClearRemind bool                  `json:"clear_reminder"`
}

func (s *Server) handleTaskCRUD(w http.ResponseWriter, r *http.Request, id string) {
	owner := s.owner(r.Context())
	switch r.Method {
	case http.MethodGet:
		task, err := s.cfg.Store.GetTask(r.Context(), owner, id)
		if err != nil {
			s.storeError(w, r, "get task", err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case http.MethodPut:
		var req updateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		fields := persistence.TaskFields{
			Name:        req.Name,
			Description: req.Description,
			Priority:    req.Priority,
			DueAt:       req.DueAt,
			ClearDueAt:  req.ClearDueAt,
			ReminderAt:  req.ReminderAt,
			ClearRemind: req.ClearRemind,
		}
		if err := s.cfg.Store.UpdateTask(r.Context(), owner, id, fields); err != nil {
			s.storeError(w, r, "update task", err)
			return
		}
		task, err := s.cfg.Store.GetTask(r.Context(), owner, id)
		if err != nil {
			s.storeError(w, r, "reload task", err)
			return
		}
		s.publishTask(bus.TopicTaskUpdated, task)
		writeJSON(w, http.StatusOK, task)

	case http.MethodDelete:
		if err := s.cfg.Store.DeleteTask(r.Context(), owner, id); err != nil {
			s.storeError(w, r, "delete task", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Completed bool `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	owner := s.owner(r.Context())
	prior, err := s.cfg.Store.SetCompleted(r.Context(), owner, id, req.Completed)
	if err != nil {
		s.storeError(w, r, "set completed", err)
		return
	}
	// Completing a task with a live reminder pushes it out by the priority
	// offset instead of silencing it.
	if req.Completed {
		if err := s.cfg.Machine.OnCompletionToggle(r.Context(), prior); err != nil {
			s.internalError(w, r, "completion reschedule", err)
			return
		}
	}

	task, err := s.cfg.Store.GetTask(r.Context(), owner, id)
	if err != nil {
		s.storeError(w, r, "reload task", err)
		return
	}
	s.publishTask(bus.TopicTaskCompleted, task)
	writeJSON(w, http.StatusOK, task)
}

// reminderProgressRequest is the reminder-progress body. When snoozeMinutes
// is a positive number the request is a snooze; anything else, including a
// malformed value, advances the escalation cycle.
type reminderProgressRequest struct {
	Stopped       bool            `json:"stopped"`
	SnoozeMinutes json.RawMessage `json:"snoozeMinutes"`
}

func (s *Server) handleReminderProgress(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reminderProgressRequest
	if r.Body != nil {
		// An empty body is a plain progress request.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	owner := s.owner(r.Context())

	if minutes, ok := snoozeMinutes(req.SnoozeMinutes); ok {
		task, message, err := s.cfg.Machine.Snooze(r.Context(), owner, id, minutes)
		if err != nil {
			s.storeError(w, r, "snooze", err)
			return
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Snoozes.Add(r.Context(), 1)
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": task, "message": message})
		return
	}

	task, message, err := s.cfg.Machine.Progress(r.Context(), owner, id, req.Stopped)
	if err != nil {
		s.storeError(w, r, "progress", err)
		return
	}
	if s.cfg.Metrics != nil {
		if task.ReminderAt != nil {
			s.cfg.Metrics.Escalations.Add(r.Context(), 1)
		} else if !task.Completed {
			s.cfg.Metrics.Exhaustions.Add(r.Context(), 1)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "message": message})
}

// snoozeMinutes extracts a positive minute count from the raw JSON value.
// Absent, zero, negative, or non-numeric values all report ok=false so the
// caller falls through to a progress. Fractional minutes are rounded up to
// a whole minute.
func snoozeMinutes(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	minutes := int(math.Ceil(f))
	if minutes < 1 {
		minutes = 1
	}
	return minutes, true
}

func (s *Server) handleReminderTriggered(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ReminderIndex *int `json:"reminderIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReminderIndex == nil {
		badRequest(w, "reminderIndex is required")
		return
	}

	task, err := s.cfg.Machine.TriggerSubReminder(r.Context(), s.owner(r.Context()), id, *req.ReminderIndex)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRingHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Ownership check first; history rows themselves are not owner-scoped.
	if _, err := s.cfg.Store.GetTask(r.Context(), s.owner(r.Context()), id); err != nil {
		s.storeError(w, r, "get task", err)
		return
	}
	history, err := s.cfg.Store.RingHistory(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "ring history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handlePendingReminders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tasks, err := s.cfg.Store.PendingReminders(r.Context(), s.owner(r.Context()), time.Now().UTC())
	if err != nil {
		s.internalError(w, r, "pending reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": tasks})
}

func (s *Server) handleFiredReminders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tasks, err := s.cfg.Store.FiredReminders(r.Context(), s.owner(r.Context()))
	if err != nil {
		s.internalError(w, r, "fired reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": tasks})
}

func (s *Server) publishTask(topic string, task *persistence.Task) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(topic, bus.TaskEvent{
		TaskID:    task.ID,
		TaskName:  task.Name,
		Completed: task.Completed,
	})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}
	s.internalError(w, r, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error("gateway request failed",
		"op", op,
		"path", r.URL.Path,
		"error", err,
	)
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}

func badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing to do but note it.
		slog.Default().Debug("encode response", "error", err)
	}
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string, auth *AuthMiddleware) error {
	handler := s.Handler()
	if auth != nil {
		handler = auth.Wrap(handler)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("gateway listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
