package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ChatGPT-CN/chat-ai/internal/wire"
)

// RelayError is a non-2xx answer from the relay.
type RelayError struct {
	Status  int
	Message string
}

func (e *RelayError) Error() string {
	return e.Message
}

type Client struct {
	http     *resty.Client
	chatPath string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		chatPath: "/chat",
	}
}

// WithChatPath points the client at a relay mounted under a different route.
func (c *Client) WithChatPath(path string) *Client {
	if path != "" {
		c.chatPath = "/" + strings.TrimPrefix(path, "/")
	}
	return c
}

// Chat sends one turn. The relay answers 200 even when the reply could not
// be extracted; that case arrives as wire.ExtractionFailedText.
func (c *Client) Chat(ctx context.Context, req wire.ChatRequest) (wire.ChatResponse, error) {
	var out wire.ChatResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post(c.chatPath)
	if err != nil {
		return wire.ChatResponse{}, fmt.Errorf("call relay: %w", err)
	}

	if !res.IsSuccess() {
		return wire.ChatResponse{}, &RelayError{Status: res.StatusCode(), Message: errorMessage(res)}
	}
	return out, nil
}

func errorMessage(res *resty.Response) string {
	var env wire.ErrorResponse
	if err := json.Unmarshal(res.Body(), &env); err == nil && env.Error != "" {
		return env.Error
	}
	if body := strings.TrimSpace(res.String()); body != "" {
		return body
	}
	if txt := http.StatusText(res.StatusCode()); txt != "" {
		return txt
	}
	return fmt.Sprintf("relay returned status %d", res.StatusCode())
}
