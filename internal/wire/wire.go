// Package wire holds the JSON types exchanged between the chat client and
// the relay. It has no dependencies so both sides can import it.
package wire

import "encoding/json"

// Built-in provider ids. Replicate and OpenRouter are reserved keys that
// credentials may be stored under but that have no adapter.
const (
	DeepSeek   = "deepseek"
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Gemini     = "gemini"
	Replicate  = "replicate"
	OpenRouter = "openrouter"
)

// Senders as the chat UI records them.
const (
	SenderUser   = "user"
	SenderAI     = "ai"
	SenderSystem = "system"
)

// ExtractionFailedText replaces the reply when the provider answered in a
// shape no extraction rule recognises.
const ExtractionFailedText = "Error: Could not parse AI response."

// CustomConfig describes a user-defined endpoint. Optional fields are
// pointers so that "unset" and "set to empty" stay distinguishable.
type CustomConfig struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Endpoint          string  `json:"endpoint"`
	APIKey            string  `json:"apiKey"`
	APIKeyHeaderName  *string `json:"apiKeyHeaderName,omitempty"`
	APIKeyPrefix      *string `json:"apiKeyPrefix,omitempty"`
	ModelParamName    *string `json:"modelParamName,omitempty"`
	MessagesParamName *string `json:"messagesParamName,omitempty"`
	ResponsePath      *string `json:"responsePath,omitempty"`
}

type Message struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type ChatRequest struct {
	Provider        string        `json:"provider"`
	Messages        []Message     `json:"messages"`
	APIKey          string        `json:"apiKey,omitempty"`
	CustomAPIConfig *CustomConfig `json:"customApiConfig,omitempty"`
	Model           string        `json:"model,omitempty"`
}

type ChatResponse struct {
	AIResponse  string          `json:"aiResponse"`
	RawResponse json.RawMessage `json:"rawResponse"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
