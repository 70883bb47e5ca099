// Package server exposes the search pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/config"
	"github.com/mohammad-safakhou/yurei/internal/auth"
	"github.com/mohammad-safakhou/yurei/internal/domain"
	"github.com/mohammad-safakhou/yurei/internal/llm"
	"github.com/mohammad-safakhou/yurei/internal/orchestrator"
	"github.com/mohammad-safakhou/yurei/internal/ratelimit"
	"github.com/mohammad-safakhou/yurei/internal/stream"
	"github.com/mohammad-safakhou/yurei/internal/telemetry"
)

// Searcher runs one request to completion, writing frames to sink.
type Searcher interface {
	Run(ctx context.Context, req orchestrator.Request, sink stream.Sink) orchestrator.Outcome
}

// Limiter is consulted once per search before any work starts.
type Limiter interface {
	Allow(ctx context.Context, identity string) (ratelimit.Decision, error)
}

type Deps struct {
	Server  config.ServerConfig
	Auth    config.AuthConfig
	Search  Searcher
	Domains *domain.Registry
	LLM     llm.Client
	// Limiter is optional; nil disables rate limiting.
	Limiter Limiter
	Metrics *telemetry.Metrics
	Logger  logrus.FieldLogger
}

type Server struct {
	e    *echo.Echo
	deps Deps
	log  logrus.FieldLogger
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	s := &Server{e: echo.New(), deps: deps, log: deps.Logger.WithField("component", "http")}
	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"request_id": v.RequestID,
			}).Info("request")
			return nil
		},
	}))
	origins := deps.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		ExposeHeaders:    []string{headerRemaining, headerReset, echo.HeaderXRequestID},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	api := e.Group("/api")
	api.GET("/domains", s.listDomains)
	protected := api.Group("", auth.Middleware(deps.Auth))
	protected.POST("/search", s.search)
	protected.POST("/suggest-questions", s.suggestQuestions)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	addr := s.deps.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errCh <- s.e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	grace := s.deps.Server.RequestTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleError writes pre-stream failures as {"error": msg}. Once a stream
// has started the response is committed and only the log line remains.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	entry := s.log.WithFields(logrus.Fields{
		"status": code,
		"method": req.Method,
		"path":   req.URL.Path,
		"remote": c.RealIP(),
	}).WithError(err)
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

func (s *Server) listDomains(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"default": s.deps.Domains.DefaultID(),
		"domains": s.deps.Domains.List(),
	})
}
