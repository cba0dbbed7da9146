// Package api serves the engine's UI-facing contract as JSON over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/observability"
	"github.com/safetrack/safetrack/internal/position"
)

// Config holds the HTTP server settings
type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	BodyLimit       string
}

// ConfigFromSettings builds a Config with production timeouts
func ConfigFromSettings(settings *conf.APISettings) Config {
	return Config{
		Listen:          settings.Listen,
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		BodyLimit:       "64K",
	}
}

// Server owns the echo instance and the API controller
type Server struct {
	echo       *echo.Echo
	config     Config
	controller *Controller
	metrics    *observability.Metrics
	feed       *position.Feed
	logger     logger.Logger
}

// Option configures a Server
type Option func(*Server)

// WithMetrics exposes the registry at /metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithFeed lets clients push positions and status through the API
func WithFeed(feed *position.Feed) Option {
	return func(s *Server) { s.feed = feed }
}

// WithLogger sets the server logger
func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.logger = log }
}

// NewServer wires middleware and routes
func NewServer(config Config, engine Engine, opts ...Option) *Server {
	s := &Server{config: config}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Global().Module("api")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	// WriteTimeout stays zero unless configured so notification streams stay open
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestLogger(s.logger))
	if config.BodyLimit != "" {
		s.echo.Use(echomw.BodyLimit(config.BodyLimit))
	}

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	s.controller = newController(s.echo.Group("/api/v1"), engine, s.feed, s.logger)
	return s
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", logger.String("address", s.config.Listen))
		errCh <- s.echo.Start(s.config.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", s.config.Listen).
			Build()
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown ends notification streams and stops the listener
func (s *Server) Shutdown() error {
	s.controller.shutdown()

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown failed", logger.Error(err))
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	s.logger.Info("API server stopped")
	return nil
}
