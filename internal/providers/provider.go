package providers

import (
	"net/http"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/wire"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Built-in provider ids. Replicate and OpenRouter are reserved keys that
// credentials may be stored under but that have no adapter.
const (
	DeepSeek   = wire.DeepSeek
	OpenAI     = wire.OpenAI
	Anthropic  = wire.Anthropic
	Gemini     = wire.Gemini
	Replicate  = wire.Replicate
	OpenRouter = wire.OpenRouter

	// Custom labels user-defined endpoints in logs and metrics.
	Custom = "custom"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []Message
	// Model overrides the adapter default when non-empty.
	Model  string
	APIKey string
}

// OutboundRequest is a fully built provider call. Building one has no side
// effects, so identical inputs always yield identical requests.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// RawErrorText lets a non-JSON error body stand in as the error message.
	RawErrorText bool
}

type Adapter interface {
	ID() string
	Build(req ChatRequest) (OutboundRequest, error)
	Extract(body jsonvalue.Value) (string, error)
}

type CustomConfig = wire.CustomConfig

type Endpoints struct {
	DeepSeekURL      string
	OpenAIURL        string
	AnthropicURL     string
	AnthropicVersion string
	// GeminiURL is the models base; the model name and method are appended.
	GeminiURL string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		DeepSeekURL:      "https://api.deepseek.com/chat/completions",
		OpenAIURL:        "https://api.openai.com/v1/chat/completions",
		AnthropicURL:     "https://api.anthropic.com/v1/messages",
		AnthropicVersion: "2023-06-01",
		GeminiURL:        "https://generativelanguage.googleapis.com/v1beta/models",
	}
}

// WithDefaults fills every empty field from DefaultEndpoints.
func (e Endpoints) WithDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.DeepSeekURL == "" {
		e.DeepSeekURL = d.DeepSeekURL
	}
	if e.OpenAIURL == "" {
		e.OpenAIURL = d.OpenAIURL
	}
	if e.AnthropicURL == "" {
		e.AnthropicURL = d.AnthropicURL
	}
	if e.AnthropicVersion == "" {
		e.AnthropicVersion = d.AnthropicVersion
	}
	if e.GeminiURL == "" {
		e.GeminiURL = d.GeminiURL
	}
	return e
}

// JSONHeader returns the base header set every adapter starts from.
func JSONHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}
