// Package api exposes the status HTTP interface for a running crawl:
// health, Prometheus metrics, and a live progress snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshkereda/CollectOfDevices/internal/store"
)

// Server serves the status endpoints for one crawl run.
type Server struct {
	router  chi.Router
	ledger  *store.Ledger
	target  string
	runID   uuid.UUID
	started time.Time
	logger  *zap.Logger

	httpSrv *http.Server
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	ledger *store.Ledger,
	target string,
	runID uuid.UUID,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger:  ledger,
		target:  target,
		runID:   runID,
		started: time.Now().UTC(),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/progress", s.getProgress)
	})
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr in the background until Shutdown.
func (s *Server) Start(addr string) {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed", zap.Error(err))
		}
	}()
	s.logger.Info("Status server listening", zap.String("addr", addr))
}

// Shutdown stops the background server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type progressResponse struct {
	RunID     string               `json:"run_id"`
	Target    string               `json:"target"`
	StartedAt time.Time            `json:"started_at"`
	Progress  store.TargetProgress `json:"progress"`
}

func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, progressResponse{
		RunID:     s.runID.String(),
		Target:    s.target,
		StartedAt: s.started,
		Progress:  s.ledger.Snapshot(s.target),
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Handler panic", zap.Any("panic", rec))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
