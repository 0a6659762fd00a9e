package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/models"
	"distributed-compressor/internal/telemetry"
)

// Broker is the subset of the job queue the API needs.
type Broker interface {
	Submit(ctx context.Context, path string, size int64, discoveredAt time.Time) error
	Get(ctx context.Context, path string) (models.Job, bool, error)
	DeadLetters(ctx context.Context, count int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// History reads the recent progress entries of a path.
type History interface {
	Recent(ctx context.Context, path string, n int) ([]string, error)
}

// Server wires HTTP handlers for manual submission and job inspection.
type Server struct {
	broker  Broker
	history History
	log     *logger.Logger
}

// New constructs the API server.
func New(broker Broker, history History, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{broker: broker, history: history, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs", s.handleGetJob)
	r.Get("/progress", s.handleProgress)
	r.Get("/dlq", s.handleDLQ)
	return r
}

// handleHealth reports ok along with the ready depth, or 503 when the broker
// cannot be reached.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	depth, err := s.broker.ReadyDepth(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queue_depth": depth})
}

type submitRequest struct {
	Path string `json:"path"`
	Size *int64 `json:"size"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	if !filepath.IsAbs(req.Path) {
		http.Error(w, "path must be absolute", http.StatusBadRequest)
		return
	}
	size := int64(-1)
	if req.Size != nil {
		size = *req.Size
	}
	path := filepath.Clean(req.Path)
	if err := s.broker.Submit(r.Context(), path, size, time.Now()); err != nil {
		s.log.WithError(err).WithField("path", path).Error("submit failed")
		http.Error(w, "submit failed", http.StatusInternalServerError)
		return
	}
	telemetry.SubmitCounter.Inc()
	s.log.WithField("path", path).Info("job submitted via api")

	job, _, err := s.broker.Get(r.Context(), path)
	if err != nil {
		job = models.Job{Path: path, Size: size, Status: models.StatusQueued}
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	job, found, err := s.broker.Get(r.Context(), path)
	if err != nil {
		http.Error(w, "failed to read job", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleProgress returns the recent progress history of a path, newest first.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	entries, err := s.history.Recent(r.Context(), path, n)
	if err != nil {
		http.Error(w, "failed to read progress", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "entries": entries})
}

// handleDLQ returns the DLQ contents (paths only).
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.broker.DeadLetters(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read dlq", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
