// Package server exposes the onboarding engine over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/velocityhq/velocity/internal/graph"
	"github.com/velocityhq/velocity/internal/jobs"
	"github.com/velocityhq/velocity/internal/ledger"
	"github.com/velocityhq/velocity/internal/scheduler"
	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/internal/streaming"
	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Deps holds the dependencies for the HTTP server.
type Deps struct {
	Store     store.Store
	Manager   *jobs.Manager
	Ledger    *ledger.Ledger
	Registry  *tools.Registry
	Graph     *graph.Graph
	Scheduler *scheduler.Scheduler
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Server is the JSON API over the onboarding engine.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /onboard", s.handleSubmit)
	mux.HandleFunc("GET /onboard/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /onboard/{id}/items", s.handleItems)
	mux.HandleFunc("POST /onboard/{id}/resume", s.handleResume)
	mux.HandleFunc("GET /onboard/{id}/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("GET /onboard/{id}/events", s.handleSSERun)
	mux.HandleFunc("GET /onboard", s.handleList)
	mux.HandleFunc("GET /events", s.handleSSEGlobal)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /debug/simulate", s.handleSimulateList)
	mux.HandleFunc("POST /debug/simulate", s.handleSimulateSet)
	mux.HandleFunc("DELETE /debug/simulate", s.handleSimulateReset)
	mux.HandleFunc("GET /debug/tools", s.handleTools)
	mux.HandleFunc("GET /debug/graph", s.handleGraph)
	mux.HandleFunc("POST /debug/sweep", s.handleSweep)

	return s.logRequests(mux)
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// 10s grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.deps.Logger.Info("http server listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.deps.Logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)))
	})
}

// httpStatusFor maps structured error codes to HTTP status codes.
func httpStatusFor(err error) int {
	var engErr *schema.EngineError
	if !errors.As(err, &engErr) {
		return http.StatusInternalServerError
	}
	switch engErr.Code {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeSequenceConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
