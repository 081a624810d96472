// Package server exposes the engine over HTTP: the subscription document,
// the published aggregate, manual refreshes, one-off channel resolution
// and operational status.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"ytfeed/aggregate"
	ythttp "ytfeed/http"
	"ytfeed/metrics"
	"ytfeed/resolve"
	"ytfeed/storage"
	"ytfeed/youtube"
)

// DefaultRequestTimeout bounds a single request, including a synchronous
// channel resolution.
const DefaultRequestTimeout = 30 * time.Second

// StateService reads and replaces the subscription document.
type StateService interface {
	Snapshot() storage.State
	Sync(ctx context.Context, incoming storage.State) (storage.State, error)
}

// AggregateReader reads the published aggregate.
type AggregateReader interface {
	Snapshot() *storage.Aggregate
	LastAttempt() *storage.AggregateRun
}

// RunTrigger starts aggregation runs without waiting for them.
type RunTrigger interface {
	Trigger() aggregate.TriggerResult
	Status() aggregate.Status
}

// ChannelResolver resolves a single reference.
type ChannelResolver interface {
	Resolve(ctx context.Context, ref youtube.ChannelReference, known func(string) bool) (resolve.Result, error)
}

// Deps collects the server's collaborators. State, Aggregates, Runs and
// Resolver are required.
type Deps struct {
	State      StateService
	Aggregates AggregateReader
	Runs       RunTrigger
	Resolver   ChannelResolver

	// Breaker and Budget feed /status when set.
	Breaker *ythttp.CircuitBreaker
	Budget  *youtube.QuotaBudget
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer

	Logger         *slog.Logger
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Server routes requests to the handlers.
type Server struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	router chi.Router
}

// New builds the router.
func New(deps Deps) (*Server, error) {
	if deps.State == nil || deps.Aggregates == nil || deps.Runs == nil || deps.Resolver == nil {
		return nil, errors.New("server: state, aggregates, runs and resolver are required")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		deps:   deps,
		logger: deps.Logger,
		now:    deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "server")
	if s.now == nil {
		s.now = time.Now
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	r.Get("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.deps.RequestTimeout))

		r.Get("/sync", s.handleGetSync)
		r.Post("/sync", s.handlePostSync)
		r.Get("/videos", s.handleGetVideos)
		r.Post("/videos/refresh", s.handleRefresh)
		r.Post("/resolve-channel", s.handleResolveChannel)
		r.Get("/status", s.handleStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.deps.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("stopped")
	return nil
}
