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
	"math"

	"github.com/AleutianAI/Pulse/services/analysis/lexicon"
)

// HeuristicName is the Analyzer name of the keyword fallback.
const HeuristicName = "heuristic"

const (
	positiveThreshold = 0.6
	negativeThreshold = 0.4
	toxicWeight       = 0.25
	toxicCutoff       = 0.5
)

// HeuristicAnalyzer scores text against a keyword lexicon. It needs no
// network and never fails, which makes it the last entry of every chain.
// Emotions and topics are always empty.
type HeuristicAnalyzer struct {
	lex *lexicon.Lexicon
}

// NewHeuristicAnalyzer builds the analyzer. A nil lexicon selects the
// embedded default.
func NewHeuristicAnalyzer(lex *lexicon.Lexicon) (*HeuristicAnalyzer, error) {
	if lex == nil {
		def, err := lexicon.Default()
		if err != nil {
			return nil, fmt.Errorf("load default lexicon: %w", err)
		}
		lex = def
	}
	return &HeuristicAnalyzer{lex: lex}, nil
}

// Name implements Analyzer.
func (h *HeuristicAnalyzer) Name() string { return HeuristicName }

// Analyze implements Analyzer.
func (h *HeuristicAnalyzer) Analyze(_ context.Context, text string) (*AnalysisResult, error) {
	folded := lexicon.Fold(text)
	tokens := lexicon.Tokens(folded)
	result := newResult(HeuristicName)

	pos := lexicon.Count(folded, tokens, h.lex.Positive)
	neg := lexicon.Count(folded, tokens, h.lex.Negative)
	result.Sentiment = scoreSentiment(pos, neg)

	toxicCount := 0
	for _, category := range h.lex.Categories() {
		n := lexicon.Count(folded, tokens, h.lex.Toxic[category])
		if n > 0 {
			toxicCount += n
			result.Toxicity.Categories = append(result.Toxicity.Categories, category)
		}
	}
	result.Toxicity.Score = math.Min(float64(toxicCount)*toxicWeight, 1)
	result.Toxicity.IsToxic = result.Toxicity.Score > toxicCutoff

	return result, nil
}

// scoreSentiment maps keyword counts to a label. The score grows linearly
// with the distance of the positive ratio from 0.5.
func scoreSentiment(pos, neg int) Sentiment {
	total := pos + neg
	if total == 0 {
		return Sentiment{Label: SentimentNeutral, Score: 0.5}
	}
	ratio := float64(pos) / float64(total)
	score := 0.5 + math.Abs(ratio-0.5)

	switch {
	case ratio >= positiveThreshold:
		return Sentiment{Label: SentimentPositive, Score: score}
	case ratio <= negativeThreshold:
		return Sentiment{Label: SentimentNegative, Score: score}
	default:
		return Sentiment{Label: SentimentNeutral, Score: score}
	}
}
