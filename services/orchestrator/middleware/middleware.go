// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the Pulse HTTP service.
//
//	Request
//	   │
//	   ▼
//	RequestID ──► Observe ──► RateLimit (/v1 only) ──► Handler
//
// Identity is the X-User-ID header when present, otherwise the client IP.
// The web application in front of Pulse is trusted to set the header.
package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/Pulse/services/orchestrator/datatypes"
	"github.com/AleutianAI/Pulse/services/orchestrator/observability"
	"github.com/AleutianAI/Pulse/services/ratelimit"
)

const (
	// HeaderRequestID carries the request correlation ID.
	HeaderRequestID = "X-Request-ID"

	// HeaderUserID names the caller for rate limiting.
	HeaderUserID = "X-User-ID"

	requestIDKey = "pulse_request_id"

	maxRequestIDLen = 128
)

// =============================================================================
// Request ID
// =============================================================================

// RequestID assigns a UUID to every request unless the client supplied a
// usable X-Request-ID, and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID returns the ID set by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Identity returns the rate-limit identity of the caller.
func Identity(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}

// =============================================================================
// Metrics
// =============================================================================

// Observe records request counts and latency by route template.
func Observe(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// =============================================================================
// Rate limiting
// =============================================================================

// RateLimit rejects callers over limiter's budget with 429 and Retry-After.
// name labels the rejection metric.
func RateLimit(limiter *ratelimit.Limiter, name string, m *observability.Metrics, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		d := limiter.Allow(c.Request.Context(), Identity(c))
		SetRateHeaders(c, d)
		if d.Allowed {
			c.Next()
			return
		}
		if m != nil {
			m.RateLimitedTotal.WithLabelValues(name).Inc()
		}
		logger.Info("request rate limited",
			"limiter", name,
			"path", c.Request.URL.Path,
			"request_id", GetRequestID(c))
		Reject(c, d)
	}
}

// SetRateHeaders exposes the limiter state to the client.
func SetRateHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// Reject aborts with 429. Retry-After is rounded up to whole seconds.
func Reject(c *gin.Context, d ratelimit.Decision) {
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	c.Header("Retry-After", strconv.Itoa(max(seconds, 1)))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
		Error:     ratelimit.ErrLimited.Error(),
		RequestID: GetRequestID(c),
	})
}
