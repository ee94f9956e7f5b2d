// Package http serves the vault search and reasoning engine over a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/logging"
)

// Server provides HTTP endpoints for the engine.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(eng *engine.Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8765,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e.DefaultHTTPErrorHandler)

	metrics, err := newRequestMetrics(otel.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("creating http metrics: %w", err)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLog(logger))
	e.Use(metrics.middleware())

	s := &Server{
		echo:   e,
		engine: eng,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// requestLog logs each request once its response is written. It carries
// the request ID into the handler's context.
func requestLog(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			logger.Info("http request", append(logging.ContextFields(ctx),
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)...)
			return err
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/search", s.handleSearch)
	v1.POST("/search/reasoning", s.handleReasoningSearch)
	v1.POST("/conclusions/explore", s.handleExplore)
	v1.GET("/conclusions/:id", s.handleConclusion)
	v1.GET("/conclusions/:id/trace", s.handleTrace)
	v1.GET("/notes", s.handleNote)
	v1.GET("/notes/related", s.handleRelated)
	v1.GET("/notes/recent", s.handleRecent)
	v1.GET("/stats", s.handleStats)
	v1.POST("/index", s.handleIndex)
}

// errorHandler maps engine errors onto status codes before echo renders them.
func errorHandler(next echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			switch {
			case errors.Is(err, engine.ErrValidation):
				err = echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
			case errors.Is(err, engine.ErrNotFound):
				err = echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
			case errors.Is(err, engine.ErrReasoningDisabled):
				err = echo.NewHTTPError(http.StatusConflict, err.Error()).SetInternal(err)
			}
		}
		next(err, c)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
