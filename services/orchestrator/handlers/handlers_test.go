// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Pulse/services/analysis"
	"github.com/AleutianAI/Pulse/services/gamification"
	"github.com/AleutianAI/Pulse/services/orchestrator/datatypes"
	"github.com/AleutianAI/Pulse/services/orchestrator/middleware"
	"github.com/AleutianAI/Pulse/services/orchestrator/observability"
	"github.com/AleutianAI/Pulse/services/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Helpers
// =============================================================================

type fakeGateway struct {
	analyzed    string
	chatReq     analysis.ChatRequest
	reply       string
	insights    string
	insightsOK  bool
	summary     analysis.InsightSummary
	analyzeErr  error
	analyzeResp *analysis.AnalysisResult
}

func (f *fakeGateway) Analyze(_ context.Context, text string) (*analysis.AnalysisResult, error) {
	f.analyzed = text
	if utf8.RuneCountInString(strings.TrimSpace(text)) < analysis.DefaultMinChars {
		return nil, analysis.ErrInputTooShort
	}
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.analyzeResp, nil
}

func (f *fakeGateway) Chat(_ context.Context, req analysis.ChatRequest) string {
	f.chatReq = req
	return f.reply
}

func (f *fakeGateway) GenerateInsights(_ context.Context, s analysis.InsightSummary) (string, bool) {
	f.summary = s
	return f.insights, f.insightsOK
}

func postJSON(router *gin.Engine, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req, _ := http.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func heuristicResult() *analysis.AnalysisResult {
	return &analysis.AnalysisResult{
		Sentiment: analysis.Sentiment{Label: analysis.SentimentPositive, Score: 1},
		Emotions:  []analysis.Emotion{},
		Topics:    []string{},
		Toxicity:  analysis.Toxicity{Categories: []string{}},
		Analyzer:  analysis.HeuristicName,
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

// =============================================================================
// Analyze Tests
// =============================================================================

func TestHandleAnalyze(t *testing.T) {
	gw := &fakeGateway{analyzeResp: heuristicResult()}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.POST("/v1/analyze", HandleAnalyze(gw, 10, metrics, nil))

	w := postJSON(router, "/v1/analyze", datatypes.AnalyzeRequest{Text: "Harika ve mükemmel bir yer"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]json.RawMessage](t, w)
	assert.NotContains(t, resp, "skipped")

	var result analysis.AnalysisResult
	require.NoError(t, json.Unmarshal(resp["analysis"], &result))
	assert.Equal(t, analysis.SentimentPositive, result.Sentiment.Label)
	assert.Equal(t, "Harika ve ", gw.analyzed, "text truncated to max runes")

	assert.Contains(t, string(resp["analysis"]), `"emotions":[]`)
	assert.Contains(t, string(resp["analysis"]), `"isToxic":false`)
}

func TestHandleAnalyze_ShortTextSkipped(t *testing.T) {
	gw := &fakeGateway{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.POST("/v1/analyze", HandleAnalyze(gw, 2000, metrics, nil))

	for _, text := range []string{"", "hi"} {
		w := postJSON(router, "/v1/analyze", datatypes.AnalyzeRequest{Text: text})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"skipped":true}`, w.Body.String())
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AnalysesSkippedTotal))
}

func TestHandleAnalyze_BadRequests(t *testing.T) {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.POST("/v1/analyze", HandleAnalyze(&fakeGateway{}, 2000, nil, nil))

	w := postJSON(router, "/v1/analyze", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[datatypes.ErrorResponse](t, w)
	assert.Equal(t, "invalid request body", body.Error)
	assert.NotEmpty(t, body.RequestID)

	w = postJSON(router, "/v1/analyze", datatypes.AnalyzeRequest{Text: strings.Repeat("a", datatypes.MaxTextBytes+1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Chat Tests
// =============================================================================

func TestHandleChat(t *testing.T) {
	gw := &fakeGateway{reply: "Merhaba!"}
	router := gin.New()
	router.POST("/v1/chat", HandleChat(gw, nil, nil, nil))

	w := postJSON(router, "/v1/chat", datatypes.ChatRequest{
		Message: "Kaç puanım var?",
		History: []datatypes.ChatTurn{{Role: "user", Content: "selam"}, {Role: "assistant", Content: "merhaba"}},
		User:    &datatypes.ChatUser{Role: "customer", Points: 1200},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Merhaba!", decode[datatypes.ChatResponse](t, w).Reply)

	assert.Equal(t, "Kaç puanım var?", gw.chatReq.Message)
	assert.Len(t, gw.chatReq.History, 2)
	require.NotNil(t, gw.chatReq.User)
	assert.Equal(t, 1200, gw.chatReq.User.Points)

	w = postJSON(router, "/v1/chat", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChat_DailyGate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gate, err := gamification.NewDailyGate(gamification.ActionChat, 2, ratelimit.NewMemoryStore(),
		func() time.Time { return now }, nil)
	require.NoError(t, err)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.POST("/v1/chat", HandleChat(&fakeGateway{reply: "ok"}, gate, metrics, nil))

	send := func(user string) *httptest.ResponseRecorder {
		return postJSON(router, "/v1/chat", datatypes.ChatRequest{Message: "hi"}, middleware.HeaderUserID, user)
	}

	assert.Equal(t, http.StatusOK, send("u1").Code)
	assert.Equal(t, http.StatusOK, send("u1").Code)
	w := send("u1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "86400", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, send("u2").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("chat_daily")))

	now = now.Add(gamification.Day)
	assert.Equal(t, http.StatusOK, send("u1").Code)
}

// =============================================================================
// Insights Tests
// =============================================================================

func TestHandleInsights(t *testing.T) {
	gw := &fakeGateway{insights: "Hafta sonu personel sayısını artırın.", insightsOK: true}
	router := gin.New()
	router.POST("/v1/insights", HandleInsights(gw, nil))

	w := postJSON(router, "/v1/insights", datatypes.InsightsRequest{
		TenantID: "cafe-1",
		Summary:  datatypes.InsightSummary{TotalFeedback: 12, AverageRating: 3.9, TopTopics: []string{"servis"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[datatypes.InsightsResponse](t, w)
	require.NotNil(t, resp.Insights)
	assert.Equal(t, "Hafta sonu personel sayısını artırın.", *resp.Insights)
	assert.Equal(t, "cafe-1", gw.summary.TenantID)
	assert.Equal(t, []string{"servis"}, gw.summary.TopTopics)
}

func TestHandleInsights_Unavailable(t *testing.T) {
	router := gin.New()
	router.POST("/v1/insights", HandleInsights(&fakeGateway{}, nil))

	w := postJSON(router, "/v1/insights", datatypes.InsightsRequest{TenantID: "cafe-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"insights":null,"message":"no insights available"}`, w.Body.String())

	w = postJSON(router, "/v1/insights", map[string]any{"summary": map[string]int{"total_feedback": 1}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "tenant_id is required")
}

// =============================================================================
// Level Tests
// =============================================================================

func TestHandleLevel(t *testing.T) {
	router := gin.New()
	router.GET("/v1/levels/:xp", HandleLevel(gamification.DefaultCurve()))

	tests := []struct {
		path     string
		code     int
		level    int
		progress float64
	}{
		{"/v1/levels/0", http.StatusOK, 1, 0},
		{"/v1/levels/999", http.StatusOK, 1, 99.9},
		{"/v1/levels/1000", http.StatusOK, 2, 0},
		{"/v1/levels/2500", http.StatusOK, 3, 0},
		{"/v1/levels/-50", http.StatusOK, 1, 0},
		{"/v1/levels/abc", http.StatusBadRequest, 0, 0},
		{"/v1/levels/NaN", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", tt.path, nil)
			router.ServeHTTP(w, req)

			require.Equal(t, tt.code, w.Code)
			if tt.code != http.StatusOK {
				return
			}
			resp := decode[datatypes.LevelResponse](t, w)
			assert.Equal(t, tt.level, resp.Level)
			assert.InDelta(t, tt.progress, resp.ProgressPercent, 1e-9)
			assert.Equal(t, gamification.DefaultCurve(), resp.Curve)
		})
	}
}

func TestHandleLevel_InvalidCurveConcurrent(t *testing.T) {
	router := gin.New()
	router.GET("/v1/levels/:xp", HandleLevel(gamification.LevelCurve{}))

	var wg sync.WaitGroup
	codes := make([]int, 20)
	levels := make([]int, 20)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/v1/levels/2500", nil)
			router.ServeHTTP(w, req)
			codes[i] = w.Code
			var resp datatypes.LevelResponse
			if json.Unmarshal(w.Body.Bytes(), &resp) == nil {
				levels[i] = resp.Level
			}
		}(i)
	}
	wg.Wait()

	for i := range codes {
		assert.Equal(t, http.StatusOK, codes[i])
		assert.Equal(t, 3, levels[i], "falls back to the default curve")
	}
}

// =============================================================================
// Spin Tests
// =============================================================================

func TestHandleSpin_OncePerDay(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	gate, err := gamification.NewDailyGate(gamification.ActionSpin, 1, ratelimit.NewMemoryStore(),
		func() time.Time { return now }, nil)
	require.NoError(t, err)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.POST("/v1/spin", HandleSpin(gate, metrics))

	w := postJSON(router, "/v1/spin", "", middleware.HeaderUserID, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[datatypes.SpinResponse](t, w)
	assert.True(t, resp.Allowed)
	assert.Equal(t, 0, resp.Remaining)
	assert.True(t, resp.ResetAt.Equal(now.Add(gamification.Day)))

	w = postJSON(router, "/v1/spin", "", middleware.HeaderUserID, "u1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("spin_daily")))

	assert.Equal(t, http.StatusOK, postJSON(router, "/v1/spin", "", middleware.HeaderUserID, "u2").Code)

	now = now.Add(gamification.Day)
	assert.Equal(t, http.StatusOK, postJSON(router, "/v1/spin", "", middleware.HeaderUserID, "u1").Code)
}

// =============================================================================
// Logging Tests
// =============================================================================

func TestHandlers_LogThroughInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := gin.New()
	router.POST("/v1/analyze", HandleAnalyze(&fakeGateway{}, 2000, nil, logger))
	router.POST("/v1/chat", HandleChat(&fakeGateway{}, nil, nil, logger))
	router.POST("/v1/insights", HandleInsights(&fakeGateway{}, logger))

	for _, path := range []string{"/v1/analyze", "/v1/chat", "/v1/insights"} {
		buf.Reset()
		w := postJSON(router, path, "{bad")
		require.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, buf.String(), "invalid request body", path)
	}
}
