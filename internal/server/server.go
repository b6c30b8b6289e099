package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BadgerOps/wfbackup/internal/backup"
	"github.com/BadgerOps/wfbackup/internal/config"
	"github.com/BadgerOps/wfbackup/internal/metrics"
	"github.com/BadgerOps/wfbackup/internal/scheduler"
	"github.com/BadgerOps/wfbackup/internal/store"
)

// Server serves the archive store JSON API and Prometheus metrics.
type Server struct {
	manager    *backup.Manager
	store      *store.Store
	scheduler  *scheduler.Scheduler
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new Server instance. st and sched may be nil when
// the journal or the scheduler is disabled.
func NewServer(
	mgr *backup.Manager,
	st *store.Store,
	sched *scheduler.Scheduler,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:   mgr,
		store:     st,
		scheduler: sched,
		config:    cfg,
		logger:    logger,
	}
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.setupRoutes())
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes and path variables.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	// Archive routes
	mux.HandleFunc("GET /api/backups", s.handleListBackups)
	mux.HandleFunc("POST /api/backups", s.handleCreateBackup)
	mux.HandleFunc("DELETE /api/backups/{name}", s.handleDeleteBackup)
	mux.HandleFunc("POST /api/backups/{name}/restore", s.handleRestoreBackup)

	// Retention and journal
	mux.HandleFunc("POST /api/cleanup", s.handleCleanup)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleOperation)

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
