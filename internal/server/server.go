// Package server exposes the check status over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/nao1215/torcheck/internal/database"
	"github.com/nao1215/torcheck/internal/scheduler"
)

const (
	// A refresh runs up to three fetches, each with its own timeout.
	defaultRequestTimeout = 45 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 60 * time.Second
	defaultIdleTimeout    = 60 * time.Second
	defaultShutdownWait   = 10 * time.Second

	// DefaultRefreshEvery and DefaultRefreshBurst limit on-demand refreshes.
	DefaultRefreshEvery = 10 * time.Second
	DefaultRefreshBurst = 1

	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// StatusProvider publishes statuses and runs on-demand refreshes.
// *scheduler.Scheduler satisfies it.
type StatusProvider interface {
	Status() (scheduler.Status, bool)
	RefreshNow(ctx context.Context) scheduler.Status
}

// HistoryLister lists recorded checks. *database.HistoryDB satisfies it.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]database.Check, error)
}

// Server is the status API.
type Server struct {
	addr     string
	provider StatusProvider
	history  HistoryLister
	metrics  http.Handler
	logger   *slog.Logger
	limiter  *rate.Limiter
	version  string

	requestTimeout time.Duration
	router         chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistory enables GET /api/v1/history.
func WithHistory(h HistoryLister) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRefreshLimit allows one on-demand refresh per every, with the given
// burst.
func WithRefreshLimit(every time.Duration, burst int) Option {
	return func(s *Server) {
		if every > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Every(every), burst)
		}
	}
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithVersion is reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New builds the router. Nothing listens until Run or Serve.
func New(addr string, provider StatusProvider, opts ...Option) *Server {
	s := &Server{
		addr:           addr,
		provider:       provider,
		logger:         slog.Default(),
		limiter:        rate.NewLimiter(rate.Every(DefaultRefreshEvery), DefaultRefreshBurst),
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(s.requestTimeout),
		s.loggingMiddleware,
	)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)
		if s.history != nil {
			r.Get("/history", s.handleHistory)
		}
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// loggingMiddleware logs each request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status API: %w", err)
	}
	s.logger.Info("status API stopped")
	return nil
}
