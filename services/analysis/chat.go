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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Pulse/services/llm"
)

// ChatApology is the reply when no provider can answer.
const ChatApology = "Sorry, I can't answer right now. Please try again in a moment."

const chatSystemPrompt = `You are Pulse, the assistant of a QR-code customer feedback platform.
You help business owners read their feedback and help customers with points,
levels and rewards. Keep answers short and friendly, and reply in the
language the user writes in. Never invent numbers you were not given.`

var chatParams = llm.GenerationParams{
	Temperature: llm.Float32(0.7),
	MaxTokens:   llm.Int(400),
}

// UserContext is optional information about the person chatting.
type UserContext struct {
	Role          string `json:"role"`
	Level         int    `json:"level"`
	Points        int    `json:"points"`
	FeedbackCount int    `json:"feedback_count"`
}

// ChatRequest is one conversational turn.
type ChatRequest struct {
	Message string
	History []llm.Message
	User    *UserContext
}

// Chat answers req.Message. It never fails: when the message is blank or no
// provider answers, ChatApology is returned.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) string {
	ctx, span := g.tracer.Start(ctx, "analysis.Chat")
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		g.metrics.recordChat(ctx, "empty")
		return ChatApology
	}

	history := g.trimHistory(req.History)
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(req.User)})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})
	span.SetAttributes(attribute.Int("chat.history", len(history)))

	reply, err := g.complete(ctx, "chat", messages, chatParams)
	if err != nil {
		g.logger.Warn("chat fell back to apology", "error", err)
		g.metrics.recordChat(ctx, "apology")
		return ChatApology
	}
	g.metrics.recordChat(ctx, "answered")
	return reply
}

// trimHistory keeps the most recent user and assistant turns. Client
// supplied system messages are dropped so the fixed prompt stays in charge.
func (g *Gateway) trimHistory(history []llm.Message) []llm.Message {
	kept := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > g.historyTurns {
		kept = kept[len(kept)-g.historyTurns:]
	}
	return kept
}

func systemPrompt(user *UserContext) string {
	if user == nil {
		return chatSystemPrompt
	}
	var b strings.Builder
	b.WriteString(chatSystemPrompt)

	var facts []string
	if role := strings.TrimSpace(user.Role); role != "" {
		facts = append(facts, fmt.Sprintf("The user's role is %s.", role))
	}
	if user.Level > 0 {
		facts = append(facts, fmt.Sprintf("They are level %d.", user.Level))
	}
	if user.Points > 0 {
		facts = append(facts, fmt.Sprintf("They have %d points.", user.Points))
	}
	if user.FeedbackCount > 0 {
		facts = append(facts, fmt.Sprintf("They have left %d feedback entries.", user.FeedbackCount))
	}
	if len(facts) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(facts, " "))
	}
	return b.String()
}
