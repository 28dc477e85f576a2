// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/AleutianAI/Pulse/services/analysis"

// metrics holds the gateway instruments. A nil *metrics records nothing.
type metrics struct {
	analyses  metric.Int64Counter
	fallbacks metric.Int64Counter
	skipped   metric.Int64Counter
	retries   metric.Int64Counter
	duration  metric.Float64Histogram
	chats     metric.Int64Counter
	insights  metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var m metrics
	var err, e error
	m.analyses, e = meter.Int64Counter("pulse.analysis.results",
		metric.WithDescription("Analyses completed, by analyzer"))
	err = errors.Join(err, e)
	m.fallbacks, e = meter.Int64Counter("pulse.analysis.fallbacks",
		metric.WithDescription("Analyzer failures that moved the chain to the next strategy"))
	err = errors.Join(err, e)
	m.skipped, e = meter.Int64Counter("pulse.analysis.skipped",
		metric.WithDescription("Texts below the minimum length"))
	err = errors.Join(err, e)
	m.retries, e = meter.Int64Counter("pulse.provider.retries",
		metric.WithDescription("Provider calls retried after a rate-limit error"))
	err = errors.Join(err, e)
	m.duration, e = meter.Float64Histogram("pulse.analysis.duration",
		metric.WithDescription("Time to produce an analysis"),
		metric.WithUnit("s"))
	err = errors.Join(err, e)
	m.chats, e = meter.Int64Counter("pulse.chat.replies",
		metric.WithDescription("Chat replies, by outcome"))
	err = errors.Join(err, e)
	m.insights, e = meter.Int64Counter("pulse.insights.requests",
		metric.WithDescription("Insight generations, by outcome"))
	err = errors.Join(err, e)

	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) recordAnalysis(ctx context.Context, analyzer string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("analyzer", analyzer))
	m.analyses.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

func (m *metrics) recordFallback(ctx context.Context, analyzer string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("analyzer", analyzer)))
}

func (m *metrics) recordSkipped(ctx context.Context) {
	if m == nil {
		return
	}
	m.skipped.Add(ctx, 1)
}

func (m *metrics) recordRetries(ctx context.Context, provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("provider", provider)))
}

func (m *metrics) recordChat(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.chats.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) recordInsights(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.insights.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
