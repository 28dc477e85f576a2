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
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/Pulse/services/analysis/lexicon"
	"github.com/AleutianAI/Pulse/services/llm"
)

const (
	// DefaultMinChars is the shortest text worth annotating.
	DefaultMinChars = 5

	// DefaultHistoryTurns caps the chat history forwarded to providers.
	DefaultHistoryTurns = 10
)

// Options configures a Gateway. Zero values select defaults.
type Options struct {
	// Clients are the configured providers, in preference order. Each
	// becomes a ProviderAnalyzer ahead of the heuristic.
	Clients []llm.LLMClient

	// Analyzers, when set, replace the analyzers derived from Clients.
	// The heuristic is still appended.
	Analyzers []Analyzer

	Retry        RetryPolicy
	MinChars     int
	HistoryTurns int

	// Lexicon overrides the embedded heuristic word lists.
	Lexicon *lexicon.Lexicon

	Logger        *slog.Logger
	MeterProvider metric.MeterProvider
}

// Gateway is the single entry point for analysis, chat and insights.
// Safe for concurrent use.
type Gateway struct {
	analyzers    []Analyzer
	clients      []llm.LLMClient
	retry        RetryPolicy
	minChars     int
	historyTurns int
	logger       *slog.Logger
	metrics      *metrics
	tracer       trace.Tracer
	insights     singleflight.Group
}

// New assembles the analyzer chain.
//
// Outputs:
//   - *Gateway: Ready to use. Always ends with the heuristic analyzer.
//   - error: Non-nil if the lexicon or the metric instruments fail.
func New(opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := opts.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	minChars := opts.MinChars
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	historyTurns := opts.HistoryTurns
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}

	m, err := newMetrics(opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("create analysis metrics: %w", err)
	}
	heuristic, err := NewHeuristicAnalyzer(opts.Lexicon)
	if err != nil {
		return nil, err
	}

	var chain []Analyzer
	if opts.Analyzers != nil {
		chain = append(chain, opts.Analyzers...)
	} else {
		for _, c := range opts.Clients {
			pa := NewProviderAnalyzer(c, retry, logger)
			pa.metrics = m
			chain = append(chain, pa)
		}
	}
	chain = append(chain, heuristic)

	g := &Gateway{
		analyzers:    chain,
		clients:      opts.Clients,
		retry:        retry,
		minChars:     minChars,
		historyTurns: historyTurns,
		logger:       logger,
		metrics:      m,
		tracer:       otel.Tracer(instrumentationName),
	}
	logger.Info("analysis gateway ready", "analyzers", g.AnalyzerNames())
	return g, nil
}

// AnalyzerNames lists the chain in the order it is tried.
func (g *Gateway) AnalyzerNames() []string {
	names := make([]string, len(g.analyzers))
	for i, a := range g.analyzers {
		names[i] = a.Name()
	}
	return names
}

// Analyze annotates text with the first analyzer that succeeds.
//
// Outputs:
//   - *AnalysisResult: Fresh result owned by the caller.
//   - error: ErrInputTooShort for text under the minimum length. Provider
//     failures are never returned.
func (g *Gateway) Analyze(ctx context.Context, text string) (*AnalysisResult, error) {
	ctx, span := g.tracer.Start(ctx, "analysis.Analyze")
	defer span.End()

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < g.minChars {
		g.metrics.recordSkipped(ctx)
		span.SetAttributes(attribute.Bool("analysis.skipped", true))
		return nil, ErrInputTooShort
	}

	start := time.Now()
	var lastErr error
	for _, a := range g.analyzers {
		result, err := a.Analyze(ctx, text)
		if err != nil {
			lastErr = err
			g.metrics.recordFallback(ctx, a.Name())
			g.logger.Warn("analyzer failed, trying next", "analyzer", a.Name(), "error", err)
			continue
		}
		result.Analyzer = a.Name()
		g.metrics.recordAnalysis(ctx, a.Name(), time.Since(start).Seconds())
		span.SetAttributes(
			attribute.String("analysis.analyzer", a.Name()),
			attribute.String("analysis.sentiment", string(result.Sentiment.Label)),
		)
		return result, nil
	}

	span.SetStatus(codes.Error, "no analyzer succeeded")
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAnalyzer, lastErr)
	}
	return nil, ErrNoAnalyzer
}

// complete sends messages to each configured provider in turn, with the
// rate-limit retry policy, and returns the first non-empty reply.
func (g *Gateway) complete(ctx context.Context, op string, messages []llm.Message, params llm.GenerationParams) (string, error) {
	if len(g.clients) == 0 {
		return "", fmt.Errorf("%s: %w", op, llm.ErrMissingAPIKey)
	}
	var lastErr error
	for _, c := range g.clients {
		var reply string
		res, err := g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
			out, err := c.Chat(ctx, messages, params)
			if err != nil {
				g.logger.Warn("provider call failed",
					"op", op,
					"provider", c.Name(),
					"attempt", attempt,
					"rate_limited", llm.IsRateLimited(err),
					"error", err)
				return err
			}
			reply = strings.TrimSpace(out)
			if reply == "" {
				return llm.ErrEmptyResponse
			}
			return nil
		})
		g.metrics.recordRetries(ctx, c.Name(), res.Attempts-1)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%s: %w", op, lastErr)
}
