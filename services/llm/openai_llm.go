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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient talks to the OpenAI API, or any endpoint that mimics it when
// BaseURL is overridden.
type OpenAIClient struct {
	client *openai.Client
	name   string
	model  string
	pacer  *pacer
	logger *slog.Logger
}

// NewOpenAIClient builds a client from cfg.
//
// # Outputs
//
//   - *OpenAIClient: Ready to use.
//   - error: ErrMissingAPIKey when cfg.APIKey is empty.
func NewOpenAIClient(cfg ClientConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
		logger.Warn("model not set, using default", "provider", cfg.Name, "model", cfg.Model)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.timeout()}

	logger.Info("initializing provider client", "provider", cfg.Name, "model", cfg.Model, "key_present", true)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		name:   cfg.Name,
		model:  cfg.Model,
		pacer:  newPacer(cfg.RequestsPerSecond),
		logger: logger,
	}, nil
}

// Name implements LLMClient.
func (o *OpenAIClient) Name() string { return o.name }

// Chat implements LLMClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	if err := o.pacer.wait(ctx); err != nil {
		return "", &ProviderError{Provider: o.name, Message: "pacing wait aborted", Err: err}
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	o.logger.Debug("sending chat completion", "provider", o.name, "model", o.model, "messages", len(req.Messages))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", o.classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &ProviderError{Provider: o.name, Message: "empty completion", Err: ErrEmptyResponse}
	}

	o.logger.Debug("received chat completion",
		"provider", o.name,
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// classify converts go-openai errors into *ProviderError.
func (o *OpenAIClient) classify(err error) error {
	pe := &ProviderError{Provider: o.name, Message: err.Error(), Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Message = apiErr.Message
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
	}
	return pe
}
