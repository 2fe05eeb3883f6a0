// Package httpapi serves the webhook endpoint the similarity service
// calls back into, plus the health endpoint used by monitoring.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/tca"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// WebhookStore is the slice of the database layer the server reads.
type WebhookStore interface {
	QueuedDiffBySubmissionID(ctx context.Context, submissionID string) (*db.QueuedDiff, error)
	QueueStats(ctx context.Context) (db.TableStats, error)
	ReadyStats(ctx context.Context) (db.TableStats, error)
}

type Server struct {
	store      WebhookStore
	reconciler *tca.Reconciler
	secret     []byte
	logger     zerolog.Logger
	opts       Options
}

func NewServer(store WebhookStore, reconciler *tca.Reconciler, secret []byte, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8033
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		store:      store,
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("copypatrol webhook server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("copypatrol webhook server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{})
	})
	e.GET("/healthz", s.handleHealthz)
	e.POST("/tca-webhook", s.handleWebhook)

	return e
}

type tableHealth struct {
	Length int64   `json:"length"`
	Newest *string `json:"newest"`
	Oldest *string `json:"oldest"`
}

func buildTableHealth(stats db.TableStats) tableHealth {
	health := tableHealth{Length: stats.Length}
	if stats.Newest != nil {
		newest := stats.Newest.UTC().Format(time.RFC3339)
		health.Newest = &newest
	}
	if stats.Oldest != nil {
		oldest := stats.Oldest.UTC().Format(time.RFC3339)
		health.Oldest = &oldest
	}
	return health
}

func (s *Server) handleHealthz(c echo.Context) error {
	ctx := c.Request().Context()

	queue, err := s.store.QueueStats(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("queue stats query failed")
		return c.JSON(http.StatusInternalServerError, map[string]any{"status": "down"})
	}
	ready, err := s.store.ReadyStats(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("ready stats query failed")
		return c.JSON(http.StatusInternalServerError, map[string]any{"status": "down"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"queue":  buildTableHealth(queue),
		"ready":  buildTableHealth(ready),
		"status": "up",
	})
}
