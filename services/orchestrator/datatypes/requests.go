// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response bodies for the Pulse HTTP
// API, with go-playground/validator tags enforcing size limits.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/Pulse/services/analysis"
	"github.com/AleutianAI/Pulse/services/gamification"
	"github.com/AleutianAI/Pulse/services/llm"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxTextBytes caps any single text field.
	MaxTextBytes = 32 * 1024

	// MaxHistoryTurns caps the history a client may send. The gateway keeps
	// only the most recent turns of what is accepted.
	MaxHistoryTurns = 100

	// MaxSampleTexts caps insight sample texts per request.
	MaxSampleTexts = 50
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count, so multi-byte input
// cannot slip past the limit.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxTextBytes
}

// =============================================================================
// Analyze
// =============================================================================

// AnalyzeRequest is the body of POST /v1/analyze.
type AnalyzeRequest struct {
	Text string `json:"text" validate:"maxbytes"`
}

// Validate checks field constraints.
func (r *AnalyzeRequest) Validate() error {
	return validate.Struct(r)
}

// AnalyzeResponse carries either an analysis or skipped=true for text too
// short to annotate.
type AnalyzeResponse struct {
	Analysis *analysis.AnalysisResult `json:"analysis,omitempty"`
	Skipped  bool                     `json:"skipped,omitempty"`
}

// =============================================================================
// Chat
// =============================================================================

// ChatTurn is one prior message. System turns are accepted but dropped by
// the gateway.
type ChatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"maxbytes"`
}

// ChatUser is optional context about the person chatting.
type ChatUser struct {
	Role          string `json:"role" validate:"max=32"`
	Level         int    `json:"level" validate:"gte=0"`
	Points        int    `json:"points" validate:"gte=0"`
	FeedbackCount int    `json:"feedback_count" validate:"gte=0"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message string     `json:"message" validate:"required,maxbytes"`
	History []ChatTurn `json:"history" validate:"max=100,dive"`
	User    *ChatUser  `json:"user,omitempty"`
}

// Validate checks field constraints.
func (r *ChatRequest) Validate() error {
	return validate.Struct(r)
}

// ToGateway converts the body into the gateway request.
func (r *ChatRequest) ToGateway() analysis.ChatRequest {
	out := analysis.ChatRequest{Message: r.Message}
	if len(r.History) > 0 {
		out.History = make([]llm.Message, len(r.History))
		for i, t := range r.History {
			out.History[i] = llm.Message{Role: t.Role, Content: t.Content}
		}
	}
	if r.User != nil {
		out.User = &analysis.UserContext{
			Role:          r.User.Role,
			Level:         r.User.Level,
			Points:        r.User.Points,
			FeedbackCount: r.User.FeedbackCount,
		}
	}
	return out
}

// ChatResponse is the reply to POST /v1/chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// =============================================================================
// Insights
// =============================================================================

// InsightSummary is the summary part of an insights request.
type InsightSummary struct {
	TotalFeedback   int      `json:"total_feedback" validate:"gte=0"`
	AverageRating   float64  `json:"average_rating" validate:"gte=0,lte=5"`
	PositivePercent float64  `json:"positive_percent" validate:"gte=0,lte=100"`
	NeutralPercent  float64  `json:"neutral_percent" validate:"gte=0,lte=100"`
	NegativePercent float64  `json:"negative_percent" validate:"gte=0,lte=100"`
	TopTopics       []string `json:"top_topics" validate:"max=20,dive,max=64"`
	SampleTexts     []string `json:"sample_texts" validate:"max=50,dive,maxbytes"`
}

// InsightsRequest is the body of POST /v1/insights.
type InsightsRequest struct {
	TenantID string         `json:"tenant_id" validate:"required,max=128"`
	Summary  InsightSummary `json:"summary"`
}

// Validate checks field constraints.
func (r *InsightsRequest) Validate() error {
	return validate.Struct(r)
}

// ToGateway converts the body into the gateway summary.
func (r *InsightsRequest) ToGateway() analysis.InsightSummary {
	s := r.Summary
	return analysis.InsightSummary{
		TenantID:        r.TenantID,
		TotalFeedback:   s.TotalFeedback,
		AverageRating:   s.AverageRating,
		PositivePercent: s.PositivePercent,
		NeutralPercent:  s.NeutralPercent,
		NegativePercent: s.NegativePercent,
		TopTopics:       s.TopTopics,
		SampleTexts:     s.SampleTexts,
	}
}

// InsightsResponse carries the generated text, or a null insights field
// with an explanatory message.
type InsightsResponse struct {
	Insights *string `json:"insights"`
	Message  string  `json:"message,omitempty"`
}

// NoInsightsMessage accompanies a null insights field.
const NoInsightsMessage = "no insights available"

// =============================================================================
// Levels and errors
// =============================================================================

// LevelResponse is the reply to GET /v1/levels/:xp.
type LevelResponse struct {
	gamification.LevelProgress
	Curve gamification.LevelCurve `json:"curve"`
}

// SpinResponse is the reply to an admitted POST /v1/spin. The wheel itself
// is drawn by the caller; Pulse only enforces the daily allowance.
type SpinResponse struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// ErrorResponse is the body of every 4xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
