// Package httpapi exposes the job lifecycle over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"TopicPulse/internal/artifact"
	"TopicPulse/internal/config"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/metrics"
	"TopicPulse/internal/usecase"
)

// JobService is the slice of the controller the API drives.
type JobService interface {
	Create(ctx context.Context, text string, session domain.SessionContext) (usecase.CreateResult, error)
	Confirm(ctx context.Context, id string, confirmed bool, mods *domain.Modifications) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	Cancel(ctx context.Context, id string) (domain.Job, error)
	UpdateArtifact(ctx context.Context, jobID, artifactID string, status domain.ArtifactStatus, locator string) (domain.ArtifactHandle, error)
}

// Deps wires the handlers. Stream and Metrics are optional.
type Deps struct {
	Jobs    JobService
	Stream  http.Handler
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	jobs   JobService
	logger *slog.Logger
	cfg    config.ServerConfig
}

// NewServer builds the router; it does not listen until Start.
func NewServer(deps Deps, cfg config.ServerConfig) (*Server, error) {
	if deps.Jobs == nil {
		return nil, fmt.Errorf("job service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout.D()
	e.Server.IdleTimeout = cfg.IdleTimeout.D()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	})

	s := &Server{echo: e, jobs: deps.Jobs, logger: logger, cfg: cfg}
	s.registerRoutes(deps)
	return s, nil
}

func (s *Server) registerRoutes(deps Deps) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	if deps.Stream != nil {
		s.echo.GET("/ws", echo.WrapHandler(deps.Stream))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/jobs", s.handleCreate)
	v1.GET("/jobs/:id", s.handleGet)
	v1.POST("/jobs/:id/confirm", s.handleConfirm)
	v1.POST("/jobs/:id/cancel", s.handleCancel)
	v1.POST("/jobs/:id/artifacts/:artifactId", s.handleArtifact)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.cfg.Addr)
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// toHTTPError maps domain errors onto status codes.
func toHTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, artifact.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
