// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// CompatClient reaches OpenAI-compatible endpoints through langchaingo.
// Used for the secondary provider (Groq by default).
type CompatClient struct {
	llm    *lcopenai.LLM
	name   string
	model  string
	pacer  *pacer
	logger *slog.Logger
}

// NewCompatClient builds a client from cfg. BaseURL and Model are required
// because there is no sensible default across compatible vendors.
func NewCompatClient(cfg ClientConfig, logger *slog.Logger) (*CompatClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("compat: %w", ErrMissingAPIKey)
	}
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("compat: base url and model are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "compat"
	}

	client, err := lcopenai.New(
		lcopenai.WithToken(cfg.APIKey),
		lcopenai.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")),
		lcopenai.WithModel(cfg.Model),
		lcopenai.WithHTTPClient(&http.Client{Timeout: cfg.timeout()}),
	)
	if err != nil {
		return nil, fmt.Errorf("compat: create client: %w", err)
	}

	logger.Info("initializing provider client", "provider", cfg.Name, "model", cfg.Model, "key_present", true)
	return &CompatClient{
		llm:    client,
		name:   cfg.Name,
		model:  cfg.Model,
		pacer:  newPacer(cfg.RequestsPerSecond),
		logger: logger,
	}, nil
}

// Name implements LLMClient.
func (c *CompatClient) Name() string { return c.name }

// Chat implements LLMClient.
func (c *CompatClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	if err := c.pacer.wait(ctx); err != nil {
		return "", &ProviderError{Provider: c.name, Message: "pacing wait aborted", Err: err}
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if params.JSONMode {
		opts = append(opts, llms.WithJSONMode())
	}

	c.logger.Debug("sending chat completion", "provider", c.name, "model", c.model, "messages", len(content))
	resp, err := c.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", &ProviderError{
			Provider:   c.name,
			StatusCode: statusFromMessage(err.Error()),
			Message:    err.Error(),
			Err:        err,
		}
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", &ProviderError{Provider: c.name, Message: "empty completion", Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Content, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
