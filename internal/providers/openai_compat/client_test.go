package openai_compat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
)

func TestBuildPayloadChatCompletions(t *testing.T) {
	c := NewOpenAI("https://api.openai.com/v1/chat/completions")

	out, err := c.Build(providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleUser, Content: "hello"},
			{Role: providers.RoleAssistant, Content: "hi"},
		},
		APIKey: "sk-test",
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if out.URL != "https://api.openai.com/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", out.URL)
	}
	if got := out.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("unexpected authorization header %q", got)
	}

	var payload struct {
		Model    string              `json:"model"`
		Messages []providers.Message `json:"messages"`
	}
	if err := json.Unmarshal(out.Body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Model != DefaultOpenAIModel {
		t.Fatalf("expected default model %s, got %q", DefaultOpenAIModel, payload.Model)
	}
	if len(payload.Messages) != 2 || payload.Messages[1].Role != "assistant" || payload.Messages[1].Content != "hi" {
		t.Fatalf("unexpected messages %#v", payload.Messages)
	}
}

func TestBuildPayloadModelOverride(t *testing.T) {
	c := NewDeepSeek("https://api.deepseek.com/chat/completions")

	out, err := c.Build(providers.ChatRequest{Model: "deepseek-reasoner", APIKey: "k"})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(out.Body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["model"] != "deepseek-reasoner" {
		t.Fatalf("expected model override, got %#v", payload["model"])
	}
	if msgs, ok := payload["messages"].([]any); !ok || len(msgs) != 0 {
		t.Fatalf("expected empty messages array, got %#v", payload["messages"])
	}
}

func TestExtract(t *testing.T) {
	c := NewDeepSeek("https://example.invalid")

	body, err := jsonvalue.Parse([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	text, err := c.Extract(body)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "hello" {
		t.Fatalf("expected hello, got %q", text)
	}

	for _, raw := range []string{`{"choices":[]}`, `{"choices":{"message":{}}}`, `{"content":[{"text":"x"}]}`} {
		body, err := jsonvalue.Parse([]byte(raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		_, err = c.Extract(body)
		var xerr *providers.ExtractionError
		if !errors.As(err, &xerr) {
			t.Fatalf("expected extraction error for %s, got %v", raw, err)
		}
		if xerr.Provider != "deepseek" {
			t.Fatalf("expected provider in diagnostic, got %q", xerr.Provider)
		}
	}
}
