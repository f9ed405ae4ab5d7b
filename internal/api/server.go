// Package api exposes the operational HTTP surface: health, metrics and
// read-only job progress for polling clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

// Server serves the operational endpoints next to the capture worker.
type Server struct {
	store  capture.JobStore
	logger *zap.Logger
	http   *http.Server
}

// New builds a Server listening on addr.
func New(addr string, store capture.JobStore, logger *zap.Logger) *Server {
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/jobs/{jobID}", s.handleJob)
	r.Get("/api/links/{guid}", s.handleLink)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jobProgress is the polling payload: enough for a client to render a
// progress bar and the current stage.
type jobProgress struct {
	ID              int64   `json:"id"`
	LinkGUID        string  `json:"link_guid"`
	Status          string  `json:"status"`
	Attempt         int     `json:"attempt"`
	StepCount       float64 `json:"step_count"`
	StepDescription string  `json:"step_description"`
	QueuePosition   int     `json:"queue_position"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job id"})
		return
	}
	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, capture.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if err != nil {
		s.logger.Error("job lookup failed", zap.Int64("job_id", jobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, jobProgress{
		ID:              job.ID,
		LinkGUID:        job.LinkGUID,
		Status:          string(job.Status),
		Attempt:         job.Attempt,
		StepCount:       job.StepCount,
		StepDescription: job.StepDescription,
		QueuePosition:   s.queuePosition(r.Context(), job),
	})
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")
	link, err := s.store.GetLink(r.Context(), guid)
	if errors.Is(err, capture.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "link not found"})
		return
	}
	if err != nil {
		s.logger.Error("link lookup failed", zap.String("guid", guid), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// queuePosition counts pending jobs ahead of this one, 0 when the job has
// started or finished.
func (s *Server) queuePosition(ctx context.Context, job *capture.CaptureJob) int {
	if job.Status != capture.JobStatusPending {
		return 0
	}
	pending, err := s.store.PendingJobs(ctx)
	if err != nil {
		s.logger.Warn("pending jobs lookup failed", zap.Error(err))
		return 0
	}
	pos := 1
	for _, p := range pending {
		if p.ID == job.ID {
			return pos
		}
		pos++
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
