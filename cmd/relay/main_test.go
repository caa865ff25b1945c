package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ChatGPT-CN/chat-ai/internal/config"
	"github.com/ChatGPT-CN/chat-ai/internal/metrics"
	"github.com/ChatGPT-CN/chat-ai/internal/relay"
)

func testRouter() http.Handler {
	cfg := &config.RelayConfig{
		ChatPath:       "/chat",
		HealthPath:     "/healthz",
		MetricsPath:    "/metrics",
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	svc := relay.New(relay.Config{Logger: zerolog.Nop(), Metrics: metrics.New(), ChatPath: cfg.ChatPath})
	return newRouter(cfg, svc, zerolog.Nop())
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestChatRouteMounted(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"provider is required"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}
