package gemini

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
)

func TestBuildTemplatesModelAndKey(t *testing.T) {
	c := New(Config{BaseURL: "https://generativelanguage.googleapis.com/v1beta/models/"})

	out, err := c.Build(providers.ChatRequest{
		APIKey: "g k&y",
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "rules"},
			{Role: providers.RoleUser, Content: "2+2?"},
			{Role: providers.RoleAssistant, Content: "4"},
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	u, err := url.Parse(out.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Path != "/v1beta/models/"+DefaultModel+":generateContent" {
		t.Fatalf("unexpected path %q", u.Path)
	}
	if got := u.Query().Get("key"); got != "g k&y" {
		t.Fatalf("expected key query param, got %q", got)
	}
	if out.Header.Get("Authorization") != "" || out.Header.Get("x-goog-api-key") != "" {
		t.Fatalf("gemini key must only travel in the query string")
	}

	var p generatePayload
	if err := json.Unmarshal(out.Body, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	wantRoles := []string{"user", "user", "model"}
	if len(p.Contents) != 3 {
		t.Fatalf("expected 3 contents, got %#v", p.Contents)
	}
	for i, c := range p.Contents {
		if c.Role != wantRoles[i] {
			t.Fatalf("content %d: expected role %s, got %s", i, wantRoles[i], c.Role)
		}
		if len(c.Parts) != 1 {
			t.Fatalf("content %d: expected one part", i)
		}
	}
	if p.Contents[1].Parts[0].Text != "2+2?" {
		t.Fatalf("unexpected text %q", p.Contents[1].Parts[0].Text)
	}
}

func TestBuildModelOverride(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:9999/models"})
	out, err := c.Build(providers.ChatRequest{APIKey: "k", Model: "gemini-1.5-pro"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.URL != "http://127.0.0.1:9999/models/gemini-1.5-pro:generateContent?key=k" {
		t.Fatalf("unexpected url %q", out.URL)
	}
}

func TestExtract(t *testing.T) {
	c := New(Config{BaseURL: "http://x"})

	ok, _ := jsonvalue.Parse([]byte(`{"candidates":[{"content":{"parts":[{"text":"4"}],"role":"model"}}]}`))
	text, err := c.Extract(ok)
	if err != nil || text != "4" {
		t.Fatalf("expected 4, got %q (%v)", text, err)
	}

	bad := []string{
		`{"candidates":[]}`,
		`{"candidates":{"0":{}}}`,
		`{"candidates":[{"content":[]}]}`,
		`{"candidates":[{"content":{"parts":{}}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":4}]}}]}`,
		`{"promptFeedback":{"blockReason":"SAFETY"}}`,
	}
	for _, raw := range bad {
		v, err := jsonvalue.Parse([]byte(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if _, err := c.Extract(v); err == nil {
			t.Fatalf("expected extraction failure for %s", raw)
		}
	}
}
