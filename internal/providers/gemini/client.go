package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
)

const DefaultModel = "gemini-1.5-flash-latest"

type Config struct {
	// BaseURL is the models collection, e.g. .../v1beta/models.
	BaseURL string
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client { return &Client{cfg: cfg} }

var _ providers.Adapter = (*Client)(nil)

func (c *Client) ID() string { return providers.Gemini }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generatePayload struct {
	Contents []content `json:"contents"`
}

func (c *Client) Build(req providers.ChatRequest) (providers.OutboundRequest, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	endpoint, err := c.endpointURL(model, req.APIKey)
	if err != nil {
		return providers.OutboundRequest{}, err
	}

	contents := make([]content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, content{Role: mapRole(m.Role), Parts: []part{{Text: m.Content}}})
	}
	body, err := json.Marshal(generatePayload{Contents: contents})
	if err != nil {
		return providers.OutboundRequest{}, fmt.Errorf("marshal gemini payload: %w", err)
	}

	return providers.OutboundRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: providers.JSONHeader(),
		Body:   body,
	}, nil
}

// endpointURL templates the model into the path and carries the key as a
// query parameter; gemini takes no auth header.
func (c *Client) endpointURL(model, apiKey string) (string, error) {
	base := strings.TrimSuffix(strings.TrimSpace(c.cfg.BaseURL), "/")
	if base == "" {
		return "", fmt.Errorf("gemini base url is empty")
	}
	u, err := url.Parse(base + "/" + url.PathEscape(model) + ":generateContent")
	if err != nil {
		return "", fmt.Errorf("parse gemini url: %w", err)
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func mapRole(role string) string {
	if role == providers.RoleAssistant {
		return "model"
	}
	return "user"
}

// Extract reads candidates[0].content.parts[0].text, checking the container
// kind at every step.
func (c *Client) Extract(body jsonvalue.Value) (string, error) {
	if text, ok := candidateText(body); ok {
		return text, nil
	}
	return "", providers.ShapeError(providers.Gemini, body)
}

func candidateText(body jsonvalue.Value) (string, bool) {
	candidates, ok := body.Field("candidates")
	if !ok || candidates.Kind() != jsonvalue.Array {
		return "", false
	}
	first, ok := candidates.Index(0)
	if !ok || first.Kind() != jsonvalue.Object {
		return "", false
	}
	cnt, ok := first.Field("content")
	if !ok || cnt.Kind() != jsonvalue.Object {
		return "", false
	}
	parts, ok := cnt.Field("parts")
	if !ok || parts.Kind() != jsonvalue.Array {
		return "", false
	}
	p0, ok := parts.Index(0)
	if !ok || p0.Kind() != jsonvalue.Object {
		return "", false
	}
	text, ok := p0.Field("text")
	if !ok {
		return "", false
	}
	return text.Str()
}
