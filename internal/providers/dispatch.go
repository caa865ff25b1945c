package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/metrics"
)

type DispatcherConfig struct {
	HTTPClient       *http.Client
	MaxResponseBytes int64
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
}

// Dispatcher performs exactly one provider call per Dispatch. It never
// retries and never hides a failure.
type Dispatcher struct {
	httpClient       *http.Client
	maxResponseBytes int64
	logger           zerolog.Logger
	metrics          *metrics.Metrics
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 4 << 20
	}
	return &Dispatcher{
		httpClient:       cfg.HTTPClient,
		maxResponseBytes: cfg.MaxResponseBytes,
		logger:           cfg.Logger.With().Str("component", "dispatcher").Logger(),
		metrics:          cfg.Metrics,
	}
}

// Dispatch builds the adapter's request, sends it and returns the raw
// response body of a 2xx answer.
func (d *Dispatcher) Dispatch(ctx context.Context, adapter Adapter, req ChatRequest) ([]byte, error) {
	out, err := adapter.Build(req)
	if err != nil {
		return nil, err
	}

	method := out.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, out.URL, bytes.NewReader(out.Body))
	if err != nil {
		return nil, &ProviderNetworkError{Provider: adapter.ID(), Cause: fmt.Errorf("build request: %w", err)}
	}
	for k, vs := range out.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}

	started := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	if d.metrics != nil {
		d.metrics.ProviderLatency.WithLabelValues(labelFor(adapter)).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return nil, &ProviderNetworkError{Provider: adapter.ID(), Cause: redactURLError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseBytes+1))
	if err != nil {
		return nil, &ProviderNetworkError{Provider: adapter.ID(), Cause: fmt.Errorf("read response body: %w", err)}
	}
	oversized := int64(len(body)) > d.maxResponseBytes
	if oversized {
		body = body[:d.maxResponseBytes]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProviderHTTPError{
			Provider: adapter.ID(),
			Status:   resp.StatusCode,
			Message:  errorMessage(body, resp, out.RawErrorText),
		}
		d.logger.Warn().
			Str("provider", adapter.ID()).
			Int("status", perr.Status).
			Str("message", perr.Message).
			Msg("provider returned error status")
		return nil, perr
	}
	if oversized {
		d.logger.Warn().
			Str("provider", adapter.ID()).
			Int64("limit", d.maxResponseBytes).
			Msg("provider response exceeds read limit")
		return nil, &ResponseTooLargeError{Provider: adapter.ID(), Limit: d.maxResponseBytes}
	}
	return body, nil
}

// errorMessage picks the most specific description of a failed call:
// error.message, then error.type, then error as a plain string. When the
// body is not JSON and rawText is set, the trimmed body is used; the HTTP
// status text is the last resort.
func errorMessage(body []byte, resp *http.Response, rawText bool) string {
	parsed, err := jsonvalue.Parse(body)
	if err == nil {
		if e, ok := parsed.Field("error"); ok {
			if msg, ok := e.WalkString("message"); ok && msg != "" {
				return msg
			}
			if typ, ok := e.WalkString("type"); ok && typ != "" {
				return typ
			}
			if s, ok := e.Str(); ok && s != "" {
				return s
			}
		}
	} else if rawText {
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
			return trimmed
		}
	}
	return statusText(resp)
}

func statusText(resp *http.Response) string {
	code := fmt.Sprintf("%d", resp.StatusCode)
	if txt := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); txt != "" {
		return txt
	}
	if txt := http.StatusText(resp.StatusCode); txt != "" {
		return txt
	}
	return code
}

// redactURLError strips the query from the URL that net/http embeds in
// transport errors; gemini carries the API key there.
func redactURLError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	if u, perr := url.Parse(uerr.URL); perr == nil && u.RawQuery != "" {
		u.RawQuery = "redacted"
		uerr.URL = u.String()
	} else if perr != nil {
		uerr.URL = "<unparseable url>"
	}
	return err
}

// labelFor prefers the adapter's own label. A custom endpoint may reuse a
// built-in id and must still be counted as custom.
func labelFor(adapter Adapter) string {
	if l, ok := adapter.(interface{ MetricLabel() string }); ok {
		return l.MetricLabel()
	}
	return MetricLabel(adapter.ID())
}

// MetricLabel maps a provider id to a bounded metrics label.
func MetricLabel(id string) string {
	switch id {
	case DeepSeek, OpenAI, Anthropic, Gemini:
		return id
	default:
		return Custom
	}
}
