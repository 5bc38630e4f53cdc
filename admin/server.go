// Package admin serves health checks, metrics and manual job triggers over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"telegram-pairing-bot/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Job is the weekly pairing job
type Job interface {
	Run(ctx context.Context) (scheduler.Report, error)
	RunPeriod(ctx context.Context, period string) (scheduler.Report, error)
}

type Server struct {
	job    Job
	server *http.Server
}

func NewServer(addr string, job Job) *Server {
	s := &Server{job: job}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/jobs/weekly-pairing", s.handleWeeklyPairing)

	return r
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("admin: HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("admin: HTTP server failed")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type jobResponse struct {
	Report scheduler.Report `json:"report"`
	Error  string           `json:"error,omitempty"`
}

// handleWeeklyPairing runs the weekly job now. ?period=2026-W42 re-runs a
// given week; rounds already recorded for it are only re-announced.
func (s *Server) handleWeeklyPairing(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period != "" && !scheduler.ValidPeriod(period) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "period must look like 2026-W42"})
		return
	}

	var (
		report scheduler.Report
		err    error
	)
	if period == "" {
		report, err = s.job.Run(r.Context())
	} else {
		report, err = s.job.RunPeriod(r.Context(), period)
	}

	if err != nil {
		log.Warn().Err(err).Str("period", report.Period).Msg("admin: Manual weekly pairing finished with errors")
		writeJSON(w, http.StatusInternalServerError, jobResponse{Report: report, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Report: report})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("admin: Failed to write response")
	}
}
