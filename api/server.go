// Package api exposes the analytics core over HTTP.
//
// Endpoints:
//
//	GET  /health                 liveness probe
//	GET  /ready                  readiness probe (database ping)
//	POST /api/query              execute read-only SQL
//	POST /api/ask                natural-language question to SQL to rows
//	GET  /api/loads              load history
//	POST /api/loads              run an ETL load
//	DELETE /api/loads/{fiscalYear}  reset one fiscal year
//	GET  /api/stats/overview     per-fiscal-year headline figures
//	GET  /api/stats/by-state     per-state breakdown
//	GET  /api/stats/error-rates  official error rates for a fiscal year
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints
//   - query.go: SQL and natural-language query endpoints
//   - loads.go: ETL load and reset endpoints
//   - stats.go: statistics endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qcanalyst/qcanalyst/internal/enrich"
	"github.com/qcanalyst/qcanalyst/internal/etl"
	"github.com/qcanalyst/qcanalyst/internal/log"
	"github.com/qcanalyst/qcanalyst/internal/query"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because a load request runs the whole ETL
	// job before responding.
	WriteTimeout = 10 * time.Minute

	IdleTimeout = 120 * time.Second
)

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Pool     *pgxpool.Pool
	Executor *query.Executor
	Enricher *enrich.Enricher
	Stats    *enrich.Stats
	Rates    *enrich.Rates
	Loader   *etl.Loader
	Writer   *etl.Writer
	// Generator may be nil when no model is configured; /api/ask then
	// accepts direct SQL only.
	Generator query.Generator
	Logger    log.Logger
}

// Server is the HTTP server for the analytics REST API.
type Server struct {
	mux *http.ServeMux

	health *HealthHandler
	query  *QueryHandler
	loads  *LoadHandler
	stats  *StatsHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		health: NewHealthHandler(deps.Pool, deps.Logger),
		query:  NewQueryHandler(deps.Pool, deps.Executor, deps.Enricher, deps.Generator, deps.Logger),
		loads:  NewLoadHandler(deps.Loader, deps.Writer, deps.Logger),
		stats:  NewStatsHandler(deps.Stats, deps.Rates, deps.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.query.RegisterRoutes(mux)
	s.loads.RegisterRoutes(mux)
	s.stats.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery -> logging -> handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, loggingMiddleware)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
