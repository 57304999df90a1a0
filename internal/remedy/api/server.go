// SPDX-License-Identifier: Apache-2.0

// Package api serves the attempt log over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/attemptlog"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// degradable is implemented by logs that can fall back to buffering
type degradable interface {
	Degraded() bool
	Pending() int
}

// Server exposes attempt queries, health and metrics
type Server struct {
	echo   *echo.Echo
	log    attemptlog.Log
	logger *zap.Logger
	addr   string
}

// NewServer creates a server for log listening on addr
func NewServer(log attemptlog.Log, addr string, logger *zap.Logger) (*Server, error) {
	if log == nil {
		return nil, fmt.Errorf("attempt log is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

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
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{echo: e, log: log, logger: logger, addr: addr}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/attempts", s.handleAttempts)
}

// Handler returns the underlying http.Handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// HealthResponse is the response body for GET /healthz
type HealthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending_attempts,omitempty"`
}

// AttemptsResponse is the response body for GET /api/v1/attempts. NextAfter
// is the cursor for the next page, or 0 when there are no more attempts.
type AttemptsResponse struct {
	Attempts  []models.Attempt `json:"attempts"`
	NextAfter uint64           `json:"next_after"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if d, ok := s.log.(degradable); ok && d.Degraded() {
		resp.Status = "degraded"
		resp.Pending = d.Pending()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAttempts(c echo.Context) error {
	filter, err := ParseFilter(c.QueryParam)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Fetch one extra to learn whether another page exists
	page := filter.Limit
	filter.Limit = page + 1

	attempts, err := attemptlog.Collect(s.log.Query(c.Request().Context(), filter))
	if err != nil {
		s.logger.Error("attempt query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "attempt log unavailable")
	}

	resp := AttemptsResponse{Attempts: attempts}
	if len(attempts) > page {
		resp.Attempts = attempts[:page]
		resp.NextAfter = resp.Attempts[page-1].Seq
	}
	if resp.Attempts == nil {
		resp.Attempts = []models.Attempt{}
	}
	return c.JSON(http.StatusOK, resp)
}

// ParseFilter builds a filter from query parameters: target, category, status,
// batch, since, until (RFC3339), after and limit.
func ParseFilter(get func(string) string) (attemptlog.Filter, error) {
	f := attemptlog.Filter{
		TargetID: get("target"),
		BatchID:  get("batch"),
		Limit:    DefaultLimit,
	}

	if v := get("category"); v != "" {
		category, ok := models.ParseCategory(v)
		if !ok {
			return f, fmt.Errorf("unknown category: %s", v)
		}
		f.Category = category
	}

	if v := get("status"); v != "" {
		switch kind := models.OutcomeKind(v); kind {
		case models.OutcomeFixed, models.OutcomeNoChange, models.OutcomeFailed:
			f.Status = kind
		default:
			return f, fmt.Errorf("unknown status: %s", v)
		}
	}

	var err error
	if f.Since, err = parseTime(get("since")); err != nil {
		return f, fmt.Errorf("invalid since: %w", err)
	}
	if f.Until, err = parseTime(get("until")); err != nil {
		return f, fmt.Errorf("invalid until: %w", err)
	}

	if v := get("after"); v != "" {
		if f.AfterSeq, err = strconv.ParseUint(v, 10, 64); err != nil {
			return f, fmt.Errorf("invalid after: %w", err)
		}
	}

	if v := get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return f, fmt.Errorf("invalid limit: %s", v)
		}
		f.Limit = min(limit, MaxLimit)
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Run serves until ctx is cancelled, then shuts down within timeout
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down http server: %w", err)
	}
	return <-errCh
}
