// Package server exposes the reconciliation engine to the dashboard over
// HTTP: a JSON API, a websocket change feed, and prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/rackpatch/internal/identity"
	"github.com/raphaelgruber/rackpatch/internal/metrics"
	"github.com/raphaelgruber/rackpatch/internal/reconcile"
)

// shutdownTimeout bounds graceful shutdown once the run context ends.
const shutdownTimeout = 10 * time.Second

// Options configures a Server. Zero values are usable.
type Options struct {
	// Port to listen on; 0 is only valid for Handler-only use.
	Port int
	// Collector supplies backend call timings for /api/stats.
	Collector *metrics.Collector
	// Options receives the rack selectors the dashboard publishes. It should
	// be the Enumerator the engine was built with.
	Options *identity.OptionSet
}

// Server wraps the engine with its HTTP routes and lifecycle.
type Server struct {
	engine    *reconcile.Engine
	collector *metrics.Collector
	options   *identity.OptionSet
	validate  *validator.Validate
	logger    *slog.Logger
	router    *gin.Engine
	port      int
}

// New creates a server for engine.
func New(engine *reconcile.Engine, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Options == nil {
		opts.Options = identity.NewOptionSet()
	}
	s := &Server{
		engine:    engine,
		collector: opts.Collector,
		options:   opts.Options,
		validate:  validator.New(),
		logger:    logger,
		port:      opts.Port,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), LoggingMiddleware(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.handleWatch)

	api := r.Group("/api")
	api.GET("/bootstrap", s.handleBootstrapState)
	api.POST("/sync", s.handleSync)
	api.GET("/progress", s.handleGetProgress)
	api.POST("/progress", s.handleApplyChange)
	api.GET("/templates", s.handleTemplates)
	api.GET("/units/:su/racks", s.handleUnitRacks)
	api.PUT("/units/:su/options", s.handlePutOptions)
	api.GET("/stats", s.handleStats)
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve bootstraps engine in the background and serves until ctx is
// cancelled. Requests arriving before the bootstrap finishes see its state;
// writes wait for it.
func Serve(ctx context.Context, engine *reconcile.Engine, opts Options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	s := New(engine, opts, logger)

	go func() {
		summary, err := engine.Bootstrap(ctx)
		if err != nil {
			logger.Error("bootstrap failed", "error", err)
			return
		}
		logger.Info("bootstrap complete",
			"source", summary.Source,
			"applied", summary.Applied,
			"skipped", summary.Skipped,
			"duration", summary.Duration,
		)
	}()

	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.port),
		Handler:     s.router,
		ReadTimeout: 5 * time.Second,
		// Long enough for a write that waits on a running bootstrap.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "url", fmt.Sprintf("http://localhost:%d/", s.port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
