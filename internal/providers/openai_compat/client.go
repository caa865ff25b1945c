package openai_compat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
)

const (
	DefaultOpenAIModel   = "gpt-3.5-turbo"
	DefaultDeepSeekModel = "deepseek-chat"
)

type Config struct {
	ID           string
	URL          string
	DefaultModel string
}

// Client speaks the chat-completions dialect shared by OpenAI and DeepSeek.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

func NewOpenAI(url string) *Client {
	return New(Config{ID: providers.OpenAI, URL: url, DefaultModel: DefaultOpenAIModel})
}

func NewDeepSeek(url string) *Client {
	return New(Config{ID: providers.DeepSeek, URL: url, DefaultModel: DefaultDeepSeekModel})
}

var _ providers.Adapter = (*Client)(nil)

func (c *Client) ID() string { return c.cfg.ID }

type chatPayload struct {
	Model    string              `json:"model"`
	Messages []providers.Message `json:"messages"`
}

func (c *Client) Build(req providers.ChatRequest) (providers.OutboundRequest, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return providers.OutboundRequest{}, fmt.Errorf("%s url is empty", c.cfg.ID)
	}
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	messages := req.Messages
	if messages == nil {
		messages = []providers.Message{}
	}

	body, err := json.Marshal(chatPayload{Model: model, Messages: messages})
	if err != nil {
		return providers.OutboundRequest{}, fmt.Errorf("marshal chat completion payload: %w", err)
	}

	header := providers.JSONHeader()
	header.Set("Authorization", "Bearer "+req.APIKey)
	return providers.OutboundRequest{
		Method: http.MethodPost,
		URL:    c.cfg.URL,
		Header: header,
		Body:   body,
	}, nil
}

func (c *Client) Extract(body jsonvalue.Value) (string, error) {
	if text, ok := providers.ChoicesText(body); ok {
		return text, nil
	}
	return "", providers.ShapeError(c.cfg.ID, body)
}
