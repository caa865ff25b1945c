package anthropic_messages

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
)

const (
	DefaultModel     = "claude-3-sonnet-20240229"
	DefaultMaxTokens = 1024
)

type Config struct {
	URL     string
	Version string
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client { return &Client{cfg: cfg} }

var _ providers.Adapter = (*Client)(nil)

func (c *Client) ID() string { return providers.Anthropic }

type messagesPayload struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	Messages  []providers.Message `json:"messages"`
	System    string              `json:"system,omitempty"`
}

func (c *Client) Build(req providers.ChatRequest) (providers.OutboundRequest, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return providers.OutboundRequest{}, fmt.Errorf("anthropic url is empty")
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	system, messages := splitSystem(req.Messages)
	body, err := json.Marshal(messagesPayload{
		Model:     model,
		MaxTokens: DefaultMaxTokens,
		Messages:  messages,
		System:    system,
	})
	if err != nil {
		return providers.OutboundRequest{}, fmt.Errorf("marshal messages payload: %w", err)
	}

	header := providers.JSONHeader()
	header.Set("x-api-key", req.APIKey)
	header.Set("anthropic-version", c.cfg.Version)
	return providers.OutboundRequest{
		Method: http.MethodPost,
		URL:    c.cfg.URL,
		Header: header,
		Body:   body,
	}, nil
}

// splitSystem lifts system turns out of the conversation. Only the last
// system turn survives; the remaining turns keep their order.
func splitSystem(in []providers.Message) (string, []providers.Message) {
	system := ""
	out := make([]providers.Message, 0, len(in))
	for _, m := range in {
		if m.Role == providers.RoleSystem {
			system = m.Content
			continue
		}
		out = append(out, m)
	}
	return system, out
}

func (c *Client) Extract(body jsonvalue.Value) (string, error) {
	if text, ok := providers.ContentBlocksText(body); ok {
		return text, nil
	}
	return "", providers.ShapeError(providers.Anthropic, body)
}
