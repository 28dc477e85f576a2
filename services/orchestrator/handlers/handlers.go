// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the Pulse HTTP endpoints. Provider failures
// never reach the client: analysis falls back to the heuristic, chat falls
// back to an apology, and insights report that none are available.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Pulse/services/analysis"
	"github.com/AleutianAI/Pulse/services/gamification"
	"github.com/AleutianAI/Pulse/services/orchestrator/datatypes"
	"github.com/AleutianAI/Pulse/services/orchestrator/middleware"
	"github.com/AleutianAI/Pulse/services/orchestrator/observability"
)

var tracer = otel.Tracer("pulse.orchestrator.handlers")

// Gateway is the slice of analysis.Gateway the handlers use.
type Gateway interface {
	Analyze(ctx context.Context, text string) (*analysis.AnalysisResult, error)
	Chat(ctx context.Context, req analysis.ChatRequest) string
	GenerateInsights(ctx context.Context, summary analysis.InsightSummary) (string, bool)
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleAnalyze serves POST /v1/analyze. Text longer than maxChars runes is
// truncated before analysis.
func HandleAnalyze(gw Gateway, maxChars int, metrics *observability.Metrics, logger *slog.Logger) gin.HandlerFunc {
	logger = orDefault(logger)
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAnalyze")
		defer span.End()

		var req datatypes.AnalyzeRequest
		if !bind(c, &req, logger) {
			span.SetStatus(codes.Error, "invalid request")
			return
		}

		text := req.Text
		if maxChars > 0 {
			text = analysis.TruncateRunes(text, maxChars)
		}

		result, err := gw.Analyze(ctx, text)
		switch {
		case errors.Is(err, analysis.ErrInputTooShort):
			if metrics != nil {
				metrics.AnalysesSkippedTotal.Inc()
			}
			c.JSON(http.StatusOK, datatypes.AnalyzeResponse{Skipped: true})
		case err != nil:
			// Unreachable with the heuristic in the chain; skip rather than fail.
			logger.Error("analysis failed", "error", err, "request_id", middleware.GetRequestID(c))
			span.RecordError(err)
			c.JSON(http.StatusOK, datatypes.AnalyzeResponse{Skipped: true})
		default:
			span.SetAttributes(attribute.String("analysis.analyzer", result.Analyzer))
			c.JSON(http.StatusOK, datatypes.AnalyzeResponse{Analysis: result})
		}
	}
}

// HandleChat serves POST /v1/chat. gate may be nil to disable the daily
// allowance.
func HandleChat(gw Gateway, gate *gamification.DailyGate, metrics *observability.Metrics, logger *slog.Logger) gin.HandlerFunc {
	logger = orDefault(logger)
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if !bind(c, &req, logger) {
			span.SetStatus(codes.Error, "invalid request")
			return
		}

		if gate != nil {
			d := gate.Use(ctx, middleware.Identity(c))
			if !d.Allowed {
				if metrics != nil {
					metrics.RateLimitedTotal.WithLabelValues("chat_daily").Inc()
				}
				span.SetAttributes(attribute.Bool("chat.daily_limit", true))
				middleware.Reject(c, d)
				return
			}
		}

		reply := gw.Chat(ctx, req.ToGateway())
		c.JSON(http.StatusOK, datatypes.ChatResponse{Reply: reply})
	}
}

// HandleInsights serves POST /v1/insights.
func HandleInsights(gw Gateway, logger *slog.Logger) gin.HandlerFunc {
	logger = orDefault(logger)
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleInsights")
		defer span.End()

		var req datatypes.InsightsRequest
		if !bind(c, &req, logger) {
			span.SetStatus(codes.Error, "invalid request")
			return
		}
		span.SetAttributes(attribute.String("tenant_id", req.TenantID))

		text, ok := gw.GenerateInsights(ctx, req.ToGateway())
		if !ok {
			c.JSON(http.StatusOK, datatypes.InsightsResponse{Message: datatypes.NoInsightsMessage})
			return
		}
		c.JSON(http.StatusOK, datatypes.InsightsResponse{Insights: &text})
	}
}

// HandleSpin serves POST /v1/spin. It consumes one daily spin for the
// caller and replies 429 once the allowance is spent.
func HandleSpin(gate *gamification.DailyGate, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleSpin")
		defer span.End()

		d := gate.Use(ctx, middleware.Identity(c))
		if !d.Allowed {
			if metrics != nil {
				metrics.RateLimitedTotal.WithLabelValues("spin_daily").Inc()
			}
			span.SetAttributes(attribute.Bool("spin.daily_limit", true))
			middleware.Reject(c, d)
			return
		}
		c.JSON(http.StatusOK, datatypes.SpinResponse{
			Allowed:   true,
			Remaining: d.Remaining,
			ResetAt:   d.ResetAt,
		})
	}
}

// HandleLevel serves GET /v1/levels/:xp. An invalid curve is replaced by
// the default one.
func HandleLevel(curve gamification.LevelCurve) gin.HandlerFunc {
	if !curve.Valid() {
		curve = gamification.DefaultCurve()
	}
	return func(c *gin.Context) {
		xp, err := strconv.ParseFloat(c.Param("xp"), 64)
		if err != nil || math.IsNaN(xp) || math.IsInf(xp, 0) {
			badRequest(c, "xp must be a finite number")
			return
		}
		c.JSON(http.StatusOK, datatypes.LevelResponse{
			LevelProgress: curve.Progress(xp),
			Curve:         curve,
		})
	}
}

// bind decodes and validates the JSON body, replying 400 on failure.
func bind(c *gin.Context, req interface{ Validate() error }, logger *slog.Logger) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("invalid request body", "path", c.FullPath(), "error", err, "request_id", middleware.GetRequestID(c))
		badRequest(c, "invalid request body")
		return false
	}
	if err := req.Validate(); err != nil {
		logger.Warn("request validation failed", "path", c.FullPath(), "error", err, "request_id", middleware.GetRequestID(c))
		badRequest(c, err.Error())
		return false
	}
	return true
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, datatypes.ErrorResponse{
		Error:     msg,
		RequestID: middleware.GetRequestID(c),
	})
}
