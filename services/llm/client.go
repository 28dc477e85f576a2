// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for OpenAI-compatible chat-completion APIs.
//
// Two implementations share the LLMClient contract:
//
//   - OpenAIClient: github.com/sashabaranov/go-openai
//   - CompatClient: github.com/tmc/langchaingo (llms/openai) for any other
//     OpenAI-compatible endpoint (Groq, OpenRouter, vLLM, ...)
//
// Clients do not retry. Failures come back as *ProviderError so callers can
// decide with IsRateLimited whether a retry makes sense.
package llm

import (
	"context"
	"time"
)

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are optional per-call settings. Nil pointers mean
// "provider default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	// JSONMode asks the provider for a JSON object response.
	JSONMode bool `json:"json_mode"`
}

// LLMClient defines the standard interface for any chat-completion backend.
type LLMClient interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Chat sends the conversation and returns the assistant's reply text.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// ClientConfig is the shared construction input for provider clients.
type ClientConfig struct {
	// Name labels the provider. Defaults to the implementation's name.
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a single HTTP call. Default: 30s
	Timeout time.Duration
	// RequestsPerSecond paces outbound calls. 0 disables pacing.
	RequestsPerSecond float64
}

func (c ClientConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// Float32 and Int are helpers for filling GenerationParams.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
