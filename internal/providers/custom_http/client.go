package custom_http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
)

const (
	defaultHeaderName   = "Authorization"
	defaultHeaderPrefix = "Bearer "
	defaultModelParam   = "model"
	defaultMessageParam = "messages"
)

// Client is an adapter assembled at request time from a user's endpoint
// config rather than registered up front.
type Client struct {
	cfg providers.CustomConfig
}

func New(cfg providers.CustomConfig) *Client {
	return &Client{cfg: cfg}
}

var _ providers.Adapter = (*Client)(nil)

func (c *Client) ID() string { return c.cfg.ID }

// MetricLabel keeps custom endpoints under one label whatever their id.
func (c *Client) MetricLabel() string { return providers.Custom }

func (c *Client) Name() string {
	if c.cfg.Name != "" {
		return c.cfg.Name
	}
	return c.cfg.ID
}

func (c *Client) Build(req providers.ChatRequest) (providers.OutboundRequest, error) {
	if strings.TrimSpace(c.cfg.Endpoint) == "" {
		return providers.OutboundRequest{}, providers.Invalidf("custom api %q has no endpoint", c.Name())
	}

	messages := req.Messages
	if messages == nil {
		messages = []providers.Message{}
	}
	payload := map[string]any{
		paramName(c.cfg.MessagesParamName, defaultMessageParam): messages,
	}
	if req.Model != "" {
		payload[paramName(c.cfg.ModelParamName, defaultModelParam)] = req.Model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.OutboundRequest{}, fmt.Errorf("marshal custom payload: %w", err)
	}

	header := providers.JSONHeader()
	if key := c.cfg.APIKey; key != "" {
		name, prefix := c.authHeader()
		// Assigned directly so the configured name is sent exactly as written.
		header[name] = []string{prefix + key}
	}

	return providers.OutboundRequest{
		Method:       http.MethodPost,
		URL:          c.cfg.Endpoint,
		Header:       header,
		Body:         body,
		RawErrorText: true,
	}, nil
}

// authHeader: an unset header name means "Authorization: Bearer <key>". A
// set name, even an empty one, is used verbatim with the configured prefix.
func (c *Client) authHeader() (name, prefix string) {
	if c.cfg.APIKeyHeaderName == nil {
		name, prefix = defaultHeaderName, defaultHeaderPrefix
	} else {
		name = *c.cfg.APIKeyHeaderName
	}
	if c.cfg.APIKeyPrefix != nil {
		prefix = *c.cfg.APIKeyPrefix
	}
	return name, prefix
}

func paramName(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// Extract tries the configured response path first, then the
// chat-completions shape, then the messages shape.
func (c *Client) Extract(body jsonvalue.Value) (string, error) {
	if c.cfg.ResponsePath != nil && *c.cfg.ResponsePath != "" {
		if text, ok := body.WalkString(*c.cfg.ResponsePath); ok {
			return text, nil
		}
	}
	if text, ok := providers.ChoicesText(body); ok {
		return text, nil
	}
	if text, ok := providers.ContentBlocksText(body); ok {
		return text, nil
	}
	return "", providers.ShapeError(c.Name(), body)
}
