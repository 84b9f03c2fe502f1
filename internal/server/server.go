// Package server exposes record summaries and reports over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/jobgraph/internal/errors"
	"github.com/3leaps/jobgraph/internal/server/handlers"
	"github.com/3leaps/jobgraph/internal/server/middleware"
	"github.com/3leaps/jobgraph/pkg/report"
)

// VersionInfo is served by /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Timeouts bound the HTTP server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts match the configuration defaults.
var DefaultTimeouts = Timeouts{
	Read:     30 * time.Second,
	Write:    30 * time.Second,
	Idle:     120 * time.Second,
	Shutdown: 10 * time.Second,
}

// Server is the jobgraph HTTP server.
type Server struct {
	host     string
	port     int
	logger   *zap.Logger
	version  VersionInfo
	timeouts Timeouts
	source   handlers.RecordSource
	defaults report.Options
	health   *handlers.HealthManager
	metrics  *metrics
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersion sets the build information served by /version.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithTimeouts overrides DefaultTimeouts. Zero fields keep the default.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) {
		if t.Read > 0 {
			s.timeouts.Read = t.Read
		}
		if t.Write > 0 {
			s.timeouts.Write = t.Write
		}
		if t.Idle > 0 {
			s.timeouts.Idle = t.Idle
		}
		if t.Shutdown > 0 {
			s.timeouts.Shutdown = t.Shutdown
		}
	}
}

// WithRecordSource sets the records served by /summary, /records and
// /report. A FileSource also becomes a readiness check.
func WithRecordSource(src handlers.RecordSource) Option {
	return func(s *Server) { s.source = src }
}

// WithReportDefaults sets the report options applied before query
// parameters.
func WithReportDefaults(opts report.Options) Option {
	return func(s *Server) { s.defaults = opts }
}

// New creates a server listening on host:port once started.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:     host,
		port:     port,
		logger:   zap.NewNop(),
		version:  VersionInfo{Version: "dev"},
		timeouts: DefaultTimeouts,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.health = handlers.NewHealthManager(s.version.Version)
	if checker, ok := s.source.(handlers.HealthChecker); ok {
		s.health.RegisterChecker("records", checker)
	}
	s.metrics = newMetrics(s.source, s.logger)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recovery)
	r.Use(s.metrics.instrument)
	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/health", s.health.HealthHandler)
	r.Get("/health/live", s.health.LivenessHandler)
	r.Get("/health/ready", s.health.ReadinessHandler)
	r.Get("/health/startup", s.health.StartupHandler)
	r.Get("/version", s.versionHandler)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler(s.logger))

	reports := handlers.NewReports(s.source, s.defaults, s.logger)
	r.Get("/summary", reports.SummaryHandler)
	r.Get("/records", reports.RecordsHandler)
	r.Get("/report", reports.ReportHandler)
	return r
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, s.version)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	s.logger.Info("Shutting down server", zap.Duration("timeout", s.timeouts.Shutdown))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
