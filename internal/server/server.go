// Package server provides the GIZMO HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShashankBejjanki1241/GIZMO/internal/archive"
	"github.com/ShashankBejjanki1241/GIZMO/internal/config"
	"github.com/ShashankBejjanki1241/GIZMO/internal/eventbus"
	"github.com/ShashankBejjanki1241/GIZMO/internal/memory"
	"github.com/ShashankBejjanki1241/GIZMO/internal/metrics"
	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
	"github.com/ShashankBejjanki1241/GIZMO/internal/orchestrator"
)

// Version is the service version reported by the banner and health
// endpoints.
const Version = "0.1.0"

// Server is the GIZMO HTTP API server.
type Server struct {
	config  *config.Config
	orch    *orchestrator.Orchestrator
	bus     *eventbus.Bus
	tracker *metrics.Tracker
	memory  *memory.Store
	archive *archive.Store // nil when archiving is disabled
	logger  *zap.Logger
	router  chi.Router

	startTime    time.Time
	requestCount atomic.Int64
}

// New creates a Server over the assembled core components.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, bus *eventbus.Bus, tracker *metrics.Tracker, mem *memory.Store, arch *archive.Store, logger *zap.Logger) *Server {
	s := &Server{
		config:    cfg,
		orch:      orch,
		bus:       bus,
		tracker:   tracker,
		memory:    mem,
		archive:   arch,
		logger:    logger,
		startTime: time.Now().UTC(),
	}
	s.router = s.buildRouter()
	return s
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.ServerAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("GIZMO server listening", zap.String("addr", s.config.ServerAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler exposes the router (used by httptest servers).
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.logRequests)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleEventStream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/memory/stats", s.handleMemoryStats)
		r.Get("/agents", s.handleAgents)
		r.Get("/archive/{id}", s.handleArchive)
	})

	return r
}

// --- Middleware ---

// requestID tags every request and response for tracking.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type requestIDKey struct{}

// logRequests logs method, path, status, and duration with the request ID.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// --- Request/Response types ---

type createTaskResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
	RunID  string `json:"run_id"`
	State  string `json:"state"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// --- Handlers ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "GIZMO Agent Orchestrator",
		"version": Version,
		"status":  "running",
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)
	count := s.requestCount.Load()
	perMinute := float64(count) / maxFloat(uptime.Minutes(), 1)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": uptime.Seconds(),
		"version":        Version,
		"service":        "orchestrator",
		"metrics": map[string]any{
			"total_requests":      count,
			"requests_per_minute": perMinute,
		},
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req model.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
		return
	}

	run, err := s.orch.Submit(context.Background(), req)
	switch {
	case errors.Is(err, orchestrator.ErrQuarantined):
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "quarantined"})
		return
	case errors.Is(err, orchestrator.ErrDuplicateTask):
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "task already active"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, createTaskResponse{
		Status: "success",
		TaskID: run.TaskID,
		RunID:  run.RunID,
		State:  string(run.State),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.orch.List()})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	run, events, ok := s.orch.Get(taskID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "task not found"})
		return
	}
	payload := map[string]any{
		"task":   run,
		"events": events,
	}
	if tm, tracked := s.tracker.Task(run.RunID); tracked {
		payload["metrics"] = tm
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	plans, diffs := s.memory.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"successful_plans": plans,
		"successful_diffs": diffs,
		"max_memories":     s.memory.Capacity(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": []map[string]any{
			{
				"id":           "planner-001",
				"name":         "Planner Agent",
				"type":         "planner",
				"capabilities": []string{"task_planning", "requirement_analysis"},
			},
			{
				"id":           "coder-001",
				"name":         "Coder Agent",
				"type":         "coder",
				"capabilities": []string{"code_generation", "diff_creation"},
			},
			{
				"id":           "tester-001",
				"name":         "Tester Agent",
				"type":         "tester",
				"capabilities": []string{"test_execution", "validation"},
			},
		},
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "archive disabled"})
		return
	}
	taskID := chi.URLParam(r, "id")
	run, events, err := s.archive.GetRun(taskID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "task not archived"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":   run,
		"events": events,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
