// Package ops exposes the operational HTTP surface of the pipeline: health,
// readiness, Prometheus metrics, and a live run-stats snapshot.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpicard/baac-enrich/internal/pipeline"
)

// StatusReporter is the view of the pipeline the server needs: readiness and
// a counters snapshot.
type StatusReporter interface {
	CheckReadiness(ctx context.Context) error
	Stats() pipeline.Stats
}

// Server serves /healthz, /readyz, /statusz, and /metrics.
type Server struct {
	httpServer *http.Server
	status     StatusReporter
	logger     *slog.Logger
}

// NewServer creates the ops server on addr.
func NewServer(addr string, status StatusReporter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		status: status,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /statusz", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("ops server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.status.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStatus serves the pipeline counters as they stand, so an operator
// can watch a long run progress without scraping Prometheus.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.status.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"years_loaded":         stats.YearsLoaded,
		"years_failed":         stats.YearsFailed,
		"records_joined":       stats.Records,
		"duplicate_keys":       stats.Duplicates,
		"orphan_rows":          stats.Orphans,
		"missing_key_rows":     stats.MissingKey,
		"enriched_done":        stats.Done,
		"enriched_partial":     stats.Partial,
		"dropped_invalid":      stats.Failed,
		"documents_delivered":  stats.Delivered,
		"documents_overflowed": stats.Spilled,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort ops response
}
