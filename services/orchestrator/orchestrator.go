// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the Pulse HTTP service.
//
// It coordinates HTTP routing, the analysis gateway and its provider
// clients, the rate-limit store with its sweeper, and observability
// (OpenTelemetry tracing plus a Prometheus registry that also carries the
// gateway's OpenTelemetry metrics).
//
// # Usage
//
//	cfg, _ := config.Load("")
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	err = svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/Pulse/pkg/config"
	"github.com/AleutianAI/Pulse/services/analysis"
	"github.com/AleutianAI/Pulse/services/gamification"
	"github.com/AleutianAI/Pulse/services/llm"
	"github.com/AleutianAI/Pulse/services/orchestrator/middleware"
	"github.com/AleutianAI/Pulse/services/orchestrator/observability"
	"github.com/AleutianAI/Pulse/services/orchestrator/routes"
	"github.com/AleutianAI/Pulse/services/ratelimit"
)

const (
	serviceName = "pulse"

	// OTelStdout selects the stdout span exporter instead of OTLP.
	OTelStdout = "stdout"

	shutdownTimeout = 10 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails.
	Run(ctx context.Context) error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine

	// Gateway returns the analysis gateway, for the CLI.
	Gateway() *analysis.Gateway

	// Close releases the store, the sweeper, and the telemetry providers.
	// Safe to call more than once.
	Close() error
}

// Options inject collaborators. Every field is optional.
type Options struct {
	// Clients overrides the providers built from config.
	Clients []llm.LLMClient

	// Clock drives the rate limiters. Default: time.Now.
	Clock ratelimit.Clock

	Logger *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        config.Config
	logger        *slog.Logger
	router        *gin.Engine
	gateway       *analysis.Gateway
	registry      *prometheus.Registry
	meterProvider *sdkmetric.MeterProvider
	store         ratelimit.Store
	sweeper       *ratelimit.Sweeper
	tracerCleanup func(context.Context)
	closed        bool
}

// New builds the service.
//
// # Description
//
// New initializes, in order:
//  1. OpenTelemetry tracing (skipped when no endpoint is configured)
//  2. The Prometheus registry and the OpenTelemetry meter bridge
//  3. The rate-limit store, request limiter, daily chat gate, and sweeper
//  4. Provider clients and the analysis gateway
//  5. The gin router
//
// # Outputs
//
//   - Service: Ready to Run. Caller must Close it.
//   - error: Non-nil if any component fails to initialize.
func New(cfg config.Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &service{config: cfg, logger: logger}

	cleanup, err := initTracer(cfg.Server.OTelEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = observability.NewRegistry()
	metrics := observability.NewMetrics(s.registry)
	s.meterProvider, err = observability.NewMeterProvider(s.registry)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	limiter, gates, err := s.initRateLimiting(clock)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	clients := opts.Clients
	if clients == nil {
		clients = llm.ConfiguredClients(cfg, logger)
	}
	s.gateway, err = analysis.New(analysis.Options{
		Clients:       clients,
		Retry:         analysis.RetryPolicy{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay},
		MinChars:      cfg.Analysis.MinChars,
		HistoryTurns:  cfg.Chat.HistoryTurns,
		Logger:        logger,
		MeterProvider: s.meterProvider,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize analysis gateway: %w", err)
	}

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.Observe(metrics),
	)
	routes.SetupRoutes(s.router, routes.Deps{
		Gateway:  s.gateway,
		Limiter:  limiter,
		ChatGate: gates.chat,
		SpinGate: gates.spin,
		Curve:    gamification.LevelCurve{BasePerLevel: cfg.Levels.BasePerLevel, Multiplier: cfg.Levels.Multiplier},
		MaxChars: cfg.Analysis.MaxChars,
		Metrics:  metrics,
		Gatherer: s.registry,
		Logger:   logger,
	})

	if s.sweeper != nil {
		s.sweeper.Start()
	}
	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting Pulse server", "port", s.config.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down Pulse server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine { return s.router }

// Gateway implements Service.
func (s *service) Gateway() *analysis.Gateway { return s.gateway }

// Close implements Service.
func (s *service) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.sweeper != nil {
		s.sweeper.Stop(ctx)
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rate limit store: %w", err))
		}
	}
	if s.meterProvider != nil {
		if err := s.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
	return errors.Join(errs...)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// dailyGates are optional; a nil gate disables its allowance.
type dailyGates struct {
	chat *gamification.DailyGate
	spin *gamification.DailyGate
}

func (s *service) initRateLimiting(clock ratelimit.Clock) (*ratelimit.Limiter, dailyGates, error) {
	rl := s.config.RateLimit

	switch rl.Store {
	case config.StoreBadger:
		store, err := ratelimit.OpenBadgerStore(ratelimit.BadgerConfig{
			Path:       rl.BadgerPath,
			SyncWrites: rl.BadgerPath != "",
			Logger:     s.logger,
		})
		if err != nil {
			return nil, dailyGates{}, err
		}
		s.store = store
		s.logger.Info("Using badger rate limit store", "path", rl.BadgerPath, "in_memory", rl.BadgerPath == "")
	default:
		s.store = ratelimit.NewMemoryStore()
	}

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Store:  s.store,
		Limit:  rl.Requests,
		Window: rl.Window,
		Prefix: "req:",
		Clock:  clock,
		Logger: s.logger,
	})
	if err != nil {
		return nil, dailyGates{}, err
	}

	var gates dailyGates
	if s.config.Chat.DailyLimit > 0 {
		gates.chat, err = gamification.NewDailyGate(gamification.ActionChat, s.config.Chat.DailyLimit, s.store, clock, s.logger)
		if err != nil {
			return nil, gates, err
		}
	}
	if s.config.Spin.DailyLimit > 0 {
		gates.spin, err = gamification.NewDailyGate(gamification.ActionSpin, s.config.Spin.DailyLimit, s.store, clock, s.logger)
		if err != nil {
			return nil, gates, err
		}
	}

	if rl.SweepSchedule != "" {
		s.sweeper, err = ratelimit.NewSweeper(rl.SweepSchedule, s.store, clock, s.logger)
		if err != nil {
			return nil, dailyGates{}, err
		}
	}
	return limiter, gates, nil
}

// initTracer installs the global tracer provider. An empty endpoint leaves
// the default no-op provider in place.
func initTracer(endpoint string, logger *slog.Logger) (func(context.Context), error) {
	if endpoint == "" {
		logger.Info("Tracing export disabled")
		return nil, nil
	}
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	if endpoint == OTelStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	} else {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	logger.Info("Tracing enabled", "endpoint", endpoint)

	return func(ctx context.Context) {
		if err := traceProvider.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

var _ Service = (*service)(nil)
