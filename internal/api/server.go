// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the streaming engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/michaeldallariva/NexusM-sub001/internal/api/middleware"
	"github.com/michaeldallariva/NexusM-sub001/internal/cache"
	"github.com/michaeldallariva/NexusM-sub001/internal/hardware"
	"github.com/michaeldallariva/NexusM-sub001/internal/health"
	"github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/stream"
	"github.com/michaeldallariva/NexusM-sub001/internal/vod"
)

const (
	maxBodyBytes      = 64 << 10
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Engine is the streaming surface served over HTTP. *stream.Service implements it.
type Engine interface {
	Classify(md stream.MediaDescriptor) stream.Classification
	Resolve(ctx context.Context, md stream.MediaDescriptor) (stream.Result, error)
	Playlist(id string) ([]byte, error)
	Segment(id, name string) ([]byte, error)
	Stop(ctx context.Context, id string) error
	Status() []vod.Status
	JobStatus(id string) (vod.Status, error)
	CacheStats() (cache.Stats, error)
	ClearCache() (int, error)
	HardwareReport() (hardware.Report, bool)
	Redetect(ctx context.Context) hardware.Report
}

// Config tunes the HTTP surface.
type Config struct {
	Version string
	// RedetectInterval is the minimum spacing between hardware re-detections.
	RedetectInterval time.Duration
	// TracingService names the otelhttp spans. Empty disables HTTP tracing.
	TracingService string
	// DisableAccessLog turns off per-request logging.
	DisableAccessLog bool
	// Health backs /healthz and /readyz. Nil serves liveness only.
	Health *health.Manager
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine   Engine
	cfg      Config
	redetect *rate.Limiter
	logger   zerolog.Logger
	router   chi.Router
}

// New builds the router.
func New(engine Engine, cfg Config) *Server {
	if cfg.RedetectInterval <= 0 {
		cfg.RedetectInterval = 30 * time.Second
	}
	if cfg.Health == nil {
		cfg.Health = health.NewManager(cfg.Version)
	}
	s := &Server{
		engine:   engine,
		cfg:      cfg,
		redetect: rate.NewLimiter(rate.Every(cfg.RedetectInterval), 1),
		logger:   log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  !s.cfg.DisableAccessLog,
	})

	r.Get("/healthz", s.cfg.Health.ServeHealth)
	r.Get("/readyz", s.cfg.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Playlist and segment reads are polled by players and stay unthrottled.
		r.Get("/stream/{id}/{name}", s.handleStreamFile)
		r.Head("/stream/{id}/{name}", s.handleStreamFile)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(middleware.DefaultControlLimit, time.Minute))
			r.Post("/stream/classify", s.handleClassify)
			r.Post("/stream/resolve", s.handleResolve)
			r.Delete("/stream/{id}", s.handleStop)

			r.Get("/transcodes", s.handleListTranscodes)
			r.Get("/transcodes/{id}", s.handleGetTranscode)

			r.Get("/cache", s.handleCacheStats)
			r.Delete("/cache", s.handleClearCache)

			r.Get("/hardware", s.handleHardware)
			r.Post("/hardware/redetect", s.handleRedetect)
		})
	})
	return r
}

// Run serves on addr until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(log.FieldEvent, "api.listening").
			Str("addr", ln.Addr().String()).
			Msg("HTTP server listening")
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

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("HTTP server stopped")
	return nil
}
