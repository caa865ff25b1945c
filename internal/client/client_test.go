package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChatGPT-CN/chat-ai/internal/wire"
)

func TestChatSuccess(t *testing.T) {
	var got wire.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"aiResponse":"4","rawResponse":{"candidates":[]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	resp, err := c.Chat(context.Background(), wire.ChatRequest{
		Provider: "gemini",
		Messages: []wire.Message{{Sender: "user", Text: "2+2?"}},
		APIKey:   "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "4", resp.AIResponse)
	assert.JSONEq(t, `{"candidates":[]}`, string(resp.RawResponse))
	assert.Equal(t, "gemini", got.Provider)
	assert.Equal(t, "k", got.APIKey)
	assert.Nil(t, got.CustomAPIConfig)
}

func TestChatErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"apiKey or customApiConfig is required"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Chat(context.Background(), wire.ChatRequest{Provider: "openai", Messages: []wire.Message{}})
	var rerr *RelayError
	require.True(t, errors.As(err, &rerr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, rerr.Status)
	assert.Equal(t, "apiKey or customApiConfig is required", rerr.Message)
}

func TestChatNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).WithChatPath("api/chat").Chat(context.Background(), wire.ChatRequest{})
	var rerr *RelayError
	require.True(t, errors.As(err, &rerr), "got %v", err)
	assert.Equal(t, "Bad Gateway", rerr.Message)
}

func TestChatTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Chat(context.Background(), wire.ChatRequest{})
	require.Error(t, err)
	var rerr *RelayError
	assert.False(t, errors.As(err, &rerr))
}
