// Package server provides the HTTP API for chikuseki.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/config"
	"go.uber.org/zap"
)

// DirectoryLister reports the feed directories being watched.
type DirectoryLister interface {
	Directories() []string
}

// Server is the HTTP server for the chikuseki API.
type Server struct {
	app     *app.App
	config  *config.ServerConfig
	watch   DirectoryLister // optional
	logger  *zap.Logger
	server  *http.Server
	started time.Time
}

// NewServer creates a server over a. watch may be nil when no feed directory is watched.
func NewServer(a *app.App, cfg *config.ServerConfig, logger *zap.Logger, watch DirectoryLister) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		app:     a,
		config:  cfg,
		watch:   watch,
		logger:  logger,
		started: time.Now(),
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/digest", s.handleDigest)
		r.Post("/trend", s.handleTrend)

		r.Get("/ledger", s.handleLedgerList)
		r.Post("/ledger/retry", s.handleLedgerRetry)
		r.Post("/ledger/reap", s.handleLedgerReap)

		r.Get("/coordination", s.handleCoordination)
		r.Put("/coordination/backoff/{source}", s.handleSetBackoff)
		r.Delete("/coordination/backoff/{source}", s.handleClearBackoff)
		r.Put("/coordination/{marker}", s.handleSetMarker)

		r.Get("/chunks", s.handleDocumentChunks)
		r.Get("/feed/directories", s.handleFeedDirectories)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
