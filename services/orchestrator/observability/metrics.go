// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the Pulse HTTP
// service.
//
// # Description
//
// Metrics are registered on an explicit registry so tests can build as many
// services as they like without duplicate-registration panics. The same
// registry receives the OpenTelemetry instruments of the analysis gateway
// through the otel Prometheus exporter, so /metrics serves both.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const metricsNamespace = "pulse"

const httpSubsystem = "http"

// Metrics holds the HTTP-level collectors.
type Metrics struct {
	// RequestsTotal counts requests by route and status code.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures handler latency by route.
	RequestDurationSeconds *prometheus.HistogramVec

	// RateLimitedTotal counts requests rejected by a limiter.
	// Labels: limiter (request, chat_daily)
	RateLimitedTotal *prometheus.CounterVec

	// AnalysesSkippedTotal counts /v1/analyze calls with text too short.
	AnalysesSkippedTotal prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route"},
		),
		RateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
		AnalysesSkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "analyses_skipped_total",
				Help:      "Analyze requests whose text was too short to annotate",
			},
		),
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMeterProvider bridges OpenTelemetry instruments into reg.
func NewMeterProvider(reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create otel prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}
