// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/Pulse/services/gamification"
	"github.com/AleutianAI/Pulse/services/orchestrator/handlers"
	"github.com/AleutianAI/Pulse/services/orchestrator/middleware"
	"github.com/AleutianAI/Pulse/services/orchestrator/observability"
	"github.com/AleutianAI/Pulse/services/ratelimit"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Gateway  handlers.Gateway
	Limiter  *ratelimit.Limiter
	ChatGate *gamification.DailyGate
	SpinGate *gamification.DailyGate
	Curve    gamification.LevelCurve
	MaxChars int
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	if deps.Limiter != nil {
		v1.Use(middleware.RateLimit(deps.Limiter, "request", deps.Metrics, deps.Logger))
	}
	{
		v1.POST("/analyze", handlers.HandleAnalyze(deps.Gateway, deps.MaxChars, deps.Metrics, deps.Logger))
		v1.POST("/chat", handlers.HandleChat(deps.Gateway, deps.ChatGate, deps.Metrics, deps.Logger))
		v1.POST("/insights", handlers.HandleInsights(deps.Gateway, deps.Logger))
		v1.GET("/levels/:xp", handlers.HandleLevel(deps.Curve))
		if deps.SpinGate != nil {
			v1.POST("/spin", handlers.HandleSpin(deps.SpinGate, deps.Metrics))
		}
	}
}
