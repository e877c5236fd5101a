// Package api exposes job tracking over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arl/statsviz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ahrav/jobtracker/internal/api/health"
	"github.com/ahrav/jobtracker/internal/api/jobs"
	"github.com/ahrav/jobtracker/pkg/common/logger"
	"github.com/ahrav/jobtracker/pkg/common/otel"
)

// Config controls the API listener.
type Config struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Build           string
}

// Server serves the job endpoints.
type Server struct {
	cfg     Config
	logger  *logger.Logger
	router  *chi.Mux
	handler http.Handler
}

// NewServer wires the router. ready backs the readiness check and may be nil.
func NewServer(
	cfg Config,
	log *logger.Logger,
	metrics APIMetrics,
	svc jobs.Service,
	ready func(ctx context.Context) error,
) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(log, metrics))
	r.Use(middleware.Recoverer)

	health.Routes(r, health.Config{Build: cfg.Build, Log: log, Ready: ready})
	jobs.Routes(r, jobs.Config{Log: log, Service: svc})

	return &Server{
		cfg:     cfg,
		logger:  log,
		router:  r,
		handler: otelhttp.NewHandler(r, "jobtracker.api"),
	}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

func loggerMiddleware(log *logger.Logger, metrics APIMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				route := r.URL.Path
				if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				elapsed := time.Since(start)

				metrics.IncRequestsTotal(ctx, r.Method, route, ww.Status())
				metrics.ObserveRequestDuration(ctx, r.Method, route, elapsed)
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", elapsed,
					"request_id", middleware.GetReqID(ctx),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests within
// the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Host, s.cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(s.logger, logger.LevelError),
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info(shutdownCtx, "shutdown", "status", "api router stopping", "host", server.Addr)
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "startup", "status", "api router started", "host", server.Addr)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("could not stop api server gracefully: %w", err)
	}
	return nil
}

// DebugMux serves pprof under /debug and the statsviz runtime dashboard
// under /statsviz.
func DebugMux() (http.Handler, error) {
	viz, err := statsviz.NewServer(statsviz.Root("/statsviz"))
	if err != nil {
		return nil, fmt.Errorf("creating statsviz server: %w", err)
	}

	r := chi.NewRouter()
	r.Mount("/debug", middleware.Profiler())
	r.Get("/statsviz/ws", viz.Ws())
	r.Get("/statsviz", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/statsviz/", http.StatusMovedPermanently)
	})
	r.Handle("/statsviz/*", viz.Index())
	return r, nil
}
