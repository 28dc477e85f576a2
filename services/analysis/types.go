// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package analysis is the AI Analysis Gateway.

A Gateway holds an ordered list of Analyzer strategies: one ProviderAnalyzer
per configured LLM provider, followed by the HeuristicAnalyzer. Analyze walks
the list and returns the first success, so a feedback submission always gets
an annotation even when every provider is down or unconfigured.

The same gateway serves the conversational assistant (Chat) and aggregate
insight generation (GenerateInsights). Neither surfaces provider errors; Chat
answers with a fixed apology and GenerateInsights reports ok=false.
*/
package analysis

import (
	"context"
	"errors"
)

var (
	// ErrInputTooShort means the text is below the minimum length and must
	// not be annotated. Callers treat it as "skip", not as a failure.
	ErrInputTooShort = errors.New("analysis: input too short")

	// ErrNoAnalyzer is returned by a Gateway built without any analyzer.
	ErrNoAnalyzer = errors.New("analysis: no analyzer available")
)

// SentimentLabel is the coarse polarity of a text.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// Analyzer produces an AnalysisResult for a text.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, text string) (*AnalysisResult, error)
}

// Sentiment is a polarity with a confidence in [0,1].
type Sentiment struct {
	Label SentimentLabel `json:"label"`
	Score float64        `json:"score"`
}

// Emotion is one detected emotion with its intensity in [0,1].
type Emotion struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Toxicity flags abusive content.
type Toxicity struct {
	IsToxic    bool     `json:"isToxic"`
	Score      float64  `json:"score"`
	Categories []string `json:"categories"`
}

// AnalysisResult annotates one feedback text. Slices are never nil so the
// JSON form always carries arrays.
type AnalysisResult struct {
	Sentiment Sentiment `json:"sentiment"`
	Emotions  []Emotion `json:"emotions"`
	Topics    []string  `json:"topics"`
	Toxicity  Toxicity  `json:"toxicity"`
	Summary   string    `json:"summary,omitempty"`

	// Analyzer names the strategy that produced the result.
	Analyzer string `json:"analyzer"`
}

func newResult(analyzer string) *AnalysisResult {
	return &AnalysisResult{
		Sentiment: Sentiment{Label: SentimentNeutral, Score: 0.5},
		Emotions:  []Emotion{},
		Topics:    []string{},
		Toxicity:  Toxicity{Categories: []string{}},
		Analyzer:  analyzer,
	}
}
