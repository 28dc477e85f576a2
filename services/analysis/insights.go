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
	"strings"

	"github.com/AleutianAI/Pulse/services/llm"
)

const (
	maxInsightSamples   = 10
	maxInsightSampleLen = 200
)

const insightsSystemPrompt = `You are a customer experience consultant. Given a statistical
summary of a business's feedback, write three short, concrete
recommendations. Use plain sentences, no headings, and reply in the language
of the feedback samples.`

var insightsParams = llm.GenerationParams{
	Temperature: llm.Float32(0.5),
	MaxTokens:   llm.Int(500),
}

// InsightSummary is a pre-computed digest of a tenant's feedback.
type InsightSummary struct {
	TenantID        string   `json:"tenant_id"`
	TotalFeedback   int      `json:"total_feedback"`
	AverageRating   float64  `json:"average_rating"`
	PositivePercent float64  `json:"positive_percent"`
	NeutralPercent  float64  `json:"neutral_percent"`
	NegativePercent float64  `json:"negative_percent"`
	TopTopics       []string `json:"top_topics"`
	SampleTexts     []string `json:"sample_texts"`
}

// GenerateInsights turns a summary into recommendations. ok is false when
// no provider answered; callers supply their own message then. Concurrent
// calls for the same TenantID and the same summary share one provider call
// and its result; a different summary for the tenant gets its own call.
func (g *Gateway) GenerateInsights(ctx context.Context, summary InsightSummary) (string, bool) {
	ctx, span := g.tracer.Start(ctx, "analysis.GenerateInsights")
	defer span.End()

	if len(g.clients) == 0 {
		g.metrics.recordInsights(ctx, "unavailable")
		return "", false
	}

	prompt := insightsPrompt(summary)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: insightsSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	var (
		v   any
		err error
	)
	if summary.TenantID == "" {
		v, err = g.complete(ctx, "insights", messages, insightsParams)
	} else {
		v, err = g.sharedInsights(ctx, summary.TenantID+"\x00"+prompt, messages)
	}
	if err != nil {
		g.logger.Warn("insight generation failed", "tenant_id", summary.TenantID, "error", err)
		g.metrics.recordInsights(ctx, "failed")
		return "", false
	}
	g.metrics.recordInsights(ctx, "generated")
	return v.(string), true
}

// sharedInsights runs one provider call per key. The call is detached from
// the caller's cancellation so one departing caller does not fail the rest;
// each caller still stops waiting when its own ctx ends.
func (g *Gateway) sharedInsights(ctx context.Context, key string, messages []llm.Message) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.insights.DoChan(key, func() (any, error) {
		return g.complete(detached, "insights", messages, insightsParams)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func insightsPrompt(s InsightSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total feedback: %d\n", s.TotalFeedback)
	fmt.Fprintf(&b, "Average rating: %.1f/5\n", s.AverageRating)
	fmt.Fprintf(&b, "Sentiment: %.0f%% positive, %.0f%% neutral, %.0f%% negative\n",
		s.PositivePercent, s.NeutralPercent, s.NegativePercent)
	if len(s.TopTopics) > 0 {
		fmt.Fprintf(&b, "Top topics: %s\n", strings.Join(s.TopTopics, ", "))
	}

	samples := s.SampleTexts
	if len(samples) > maxInsightSamples {
		samples = samples[:maxInsightSamples]
	}
	if len(samples) > 0 {
		b.WriteString("Recent feedback:\n")
		for _, text := range samples {
			fmt.Fprintf(&b, "- %s\n", TruncateRunes(strings.TrimSpace(text), maxInsightSampleLen))
		}
	}
	return b.String()
}

// TruncateRunes cuts s to at most n runes without splitting a character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
