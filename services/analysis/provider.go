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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/AleutianAI/Pulse/services/llm"
)

// errMalformedReply marks provider output that is not the expected JSON.
var errMalformedReply = errors.New("malformed provider reply")

const analysisPrompt = `You analyze customer feedback left for a business.
Reply with one JSON object and nothing else, in exactly this shape:
{"sentiment":{"label":"positive|negative|neutral","score":0.0},
 "emotions":[{"label":"joy","score":0.0}],
 "topics":["service"],
 "toxicity":{"isToxic":false,"score":0.0,"categories":[]},
 "summary":"one sentence"}
Scores are between 0 and 1. List at most 3 emotions and at most 5 short
topics in the language of the feedback. Toxicity categories come from:
insult, profanity, harassment, hate, threat.`

var analysisParams = llm.GenerationParams{
	Temperature: llm.Float32(0.2),
	MaxTokens:   llm.Int(500),
	JSONMode:    true,
}

// ProviderAnalyzer asks an LLM provider for a structured annotation.
// Rate-limit errors are retried under its RetryPolicy; any other failure is
// returned so the gateway can move on to the next strategy.
type ProviderAnalyzer struct {
	client  llm.LLMClient
	retry   RetryPolicy
	logger  *slog.Logger
	metrics *metrics
}

// NewProviderAnalyzer wraps client.
func NewProviderAnalyzer(client llm.LLMClient, retry RetryPolicy, logger *slog.Logger) *ProviderAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderAnalyzer{client: client, retry: retry, logger: logger}
}

// Name implements Analyzer.
func (p *ProviderAnalyzer) Name() string { return p.client.Name() }

// Analyze implements Analyzer.
func (p *ProviderAnalyzer) Analyze(ctx context.Context, text string) (*AnalysisResult, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: analysisPrompt},
		{Role: llm.RoleUser, Content: text},
	}

	var reply string
	res, err := p.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		out, err := p.client.Chat(ctx, messages, analysisParams)
		if err != nil {
			p.logger.Warn("provider analysis attempt failed",
				"provider", p.client.Name(),
				"attempt", attempt,
				"rate_limited", llm.IsRateLimited(err),
				"error", err)
			return err
		}
		reply = out
		return nil
	})
	p.metrics.recordRetries(ctx, p.client.Name(), res.Attempts-1)
	if err != nil {
		return nil, fmt.Errorf("%s: %d attempts: %w", p.client.Name(), res.Attempts, err)
	}

	result, err := parseReply(reply)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.client.Name(), err)
	}
	result.Analyzer = p.client.Name()
	return result, nil
}

type providerReply struct {
	Sentiment struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	} `json:"sentiment"`
	Emotions []Emotion `json:"emotions"`
	Topics   []string  `json:"topics"`
	Toxicity struct {
		IsToxic    bool     `json:"isToxic"`
		Score      float64  `json:"score"`
		Categories []string `json:"categories"`
	} `json:"toxicity"`
	Summary string `json:"summary"`
}

// parseReply extracts the JSON object between the first '{' and the last
// '}' and normalizes it into an AnalysisResult.
func parseReply(reply string) (*AnalysisResult, error) {
	block, ok := extractJSON(reply)
	if !ok {
		return nil, errMalformedReply
	}
	var raw providerReply
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedReply, err)
	}

	result := newResult("")
	result.Sentiment = Sentiment{
		Label: normalizeLabel(raw.Sentiment.Label),
		Score: clamp01(raw.Sentiment.Score),
	}
	for _, e := range raw.Emotions {
		label := strings.ToLower(strings.TrimSpace(e.Label))
		if label == "" {
			continue
		}
		result.Emotions = append(result.Emotions, Emotion{Label: label, Score: clamp01(e.Score)})
	}
	result.Topics = dedupe(raw.Topics, false)
	result.Toxicity = Toxicity{
		IsToxic:    raw.Toxicity.IsToxic,
		Score:      clamp01(raw.Toxicity.Score),
		Categories: dedupe(raw.Toxicity.Categories, true),
	}
	result.Summary = strings.TrimSpace(raw.Summary)
	return result, nil
}

func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func normalizeLabel(label string) SentimentLabel {
	switch SentimentLabel(strings.ToLower(strings.TrimSpace(label))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// dedupe trims entries and drops blanks and repeats, keeping first-seen
// order. lower folds case before comparing.
func dedupe(items []string, lower bool) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if lower {
			it = strings.ToLower(it)
		}
		if it == "" {
			continue
		}
		key := strings.ToLower(it)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}
