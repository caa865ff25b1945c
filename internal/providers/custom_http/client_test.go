package custom_http

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
)

func strPtr(s string) *string { return &s }

func history() []providers.Message {
	return []providers.Message{
		{Role: providers.RoleUser, Content: "hi"},
		{Role: providers.RoleAssistant, Content: "hello"},
	}
}

func TestBuildDefaults(t *testing.T) {
	c := New(providers.CustomConfig{ID: "c1", Name: "local", Endpoint: "http://localhost:11434/v1/chat/completions", APIKey: "ck"})

	out, err := c.Build(providers.ChatRequest{Messages: history(), APIKey: "builtin-key"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := out.Header.Get("Authorization"); got != "Bearer ck" {
		t.Fatalf("expected default bearer auth, got %q", got)
	}
	if !out.RawErrorText {
		t.Fatalf("custom requests should fall back to raw error text")
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(out.Body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := payload["model"]; ok {
		t.Fatalf("model must be omitted without an override")
	}
	if len(payload) != 1 {
		t.Fatalf("expected only messages key, got %s", out.Body)
	}
	var msgs []providers.Message
	if err := json.Unmarshal(payload["messages"], &msgs); err != nil {
		t.Fatalf("unmarshal messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected messages %#v", msgs)
	}
}

func TestBuildCustomParamNames(t *testing.T) {
	c := New(providers.CustomConfig{
		ID:                "c2",
		Endpoint:          "https://llm.internal/generate",
		APIKey:            "secret",
		APIKeyHeaderName:  strPtr("X-Token"),
		APIKeyPrefix:      strPtr("Key "),
		ModelParamName:    strPtr("engine"),
		MessagesParamName: strPtr("history"),
	})

	out, err := c.Build(providers.ChatRequest{Messages: history(), Model: "m-1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := out.Header["X-Token"]; len(got) != 1 || got[0] != "Key secret" {
		t.Fatalf("unexpected custom header %#v", out.Header)
	}
	if out.Header.Get("Authorization") != "" {
		t.Fatalf("default header must not be set when a name is configured")
	}

	var payload map[string]any
	if err := json.Unmarshal(out.Body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["engine"] != "m-1" {
		t.Fatalf("expected model under engine, got %#v", payload)
	}
	if _, ok := payload["history"].([]any); !ok {
		t.Fatalf("expected messages under history, got %#v", payload)
	}
}

func TestBuildHeaderNameVerbatim(t *testing.T) {
	c := New(providers.CustomConfig{ID: "c3", Endpoint: "http://x", APIKey: "k", APIKeyHeaderName: strPtr("api-key")})
	out, err := c.Build(providers.ChatRequest{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := out.Header["api-key"]; len(got) != 1 || got[0] != "k" {
		t.Fatalf("expected verbatim header api-key without prefix, got %#v", out.Header)
	}

	empty := New(providers.CustomConfig{ID: "c4", Endpoint: "http://x", APIKey: "k", APIKeyHeaderName: strPtr("")})
	out, err = empty.Build(providers.ChatRequest{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got, ok := out.Header[""]; !ok || got[0] != "k" {
		t.Fatalf("expected header under the empty name, got %#v", out.Header)
	}
}

func TestBuildWithoutKeySendsNoAuth(t *testing.T) {
	c := New(providers.CustomConfig{ID: "c5", Endpoint: "http://x"})
	out, err := c.Build(providers.ChatRequest{APIKey: "builtin-key"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.Header.Get("Authorization") != "" {
		t.Fatalf("a keyless custom endpoint must not receive any credential")
	}
}

func TestBuildRequiresEndpoint(t *testing.T) {
	_, err := New(providers.CustomConfig{ID: "c6"}).Build(providers.ChatRequest{})
	var verr *providers.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractResponsePath(t *testing.T) {
	c := New(providers.CustomConfig{ID: "c1", ResponsePath: strPtr("data.0.text")})
	body, _ := jsonvalue.Parse([]byte(`{"data":[{"text":"ok"}]}`))
	text, err := c.Extract(body)
	if err != nil || text != "ok" {
		t.Fatalf("expected ok, got %q (%v)", text, err)
	}
}

func TestExtractFallbacks(t *testing.T) {
	c := New(providers.CustomConfig{ID: "c1", Name: "mine", ResponsePath: strPtr("result.text")})

	cases := map[string]string{
		`{"choices":[{"message":{"content":"hello"}}]}`:      "hello",
		`{"content":[{"text":"blocks"}]}`:                    "blocks",
		`{"result":{"text":7},"content":[{"text":"second"}]}`: "second",
	}
	for raw, want := range cases {
		body, err := jsonvalue.Parse([]byte(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		got, err := c.Extract(body)
		if err != nil || got != want {
			t.Fatalf("%s: expected %q, got %q (%v)", raw, want, got, err)
		}
	}

	body, _ := jsonvalue.Parse([]byte(`{"output":"nope"}`))
	_, err := c.Extract(body)
	var xerr *providers.ExtractionError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	if xerr.Provider != "mine" || xerr.Shape != `{"output":"nope"}` {
		t.Fatalf("unexpected diagnostic %+v", xerr)
	}
}

func TestExtractWithoutPathUsesFallbacks(t *testing.T) {
	c := New(providers.CustomConfig{ID: "c1"})
	body, _ := jsonvalue.Parse([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	text, err := c.Extract(body)
	if err != nil || text != "hello" {
		t.Fatalf("expected hello, got %q (%v)", text, err)
	}
}
