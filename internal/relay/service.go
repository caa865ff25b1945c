package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"
	"github.com/ChatGPT-CN/chat-ai/internal/metrics"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
	"github.com/ChatGPT-CN/chat-ai/internal/providers/registry"
	"github.com/ChatGPT-CN/chat-ai/internal/wire"
)

const (
	outcomeOK               = "ok"
	outcomeInvalid          = "invalid"
	outcomeUpstreamError    = "upstream_error"
	outcomeNetworkError     = "network_error"
	outcomeExtractionFailed = "extraction_failed"
	outcomeError            = "error"
)

type Config struct {
	Registry   *registry.Registry
	Dispatcher *providers.Dispatcher
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics

	ChatPath        string
	MaxRequestBytes int64
	// ForwardUpstreamStatus answers with the provider's own error status
	// instead of a flat 500.
	ForwardUpstreamStatus bool
}

// Service is the relay entry point. It keeps no state between calls.
type Service struct {
	registry        *registry.Registry
	dispatcher      *providers.Dispatcher
	logger          zerolog.Logger
	metrics         *metrics.Metrics
	chatPath        string
	maxRequestBytes int64
	forwardUpstream bool
}

func New(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(providers.Endpoints{})
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = providers.NewDispatcher(providers.DispatcherConfig{Logger: cfg.Logger, Metrics: m})
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/chat"
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	return &Service{
		registry:        cfg.Registry,
		dispatcher:      cfg.Dispatcher,
		logger:          cfg.Logger.With().Str("component", "relay").Logger(),
		metrics:         m,
		chatPath:        cfg.ChatPath,
		maxRequestBytes: cfg.MaxRequestBytes,
		forwardUpstream: cfg.ForwardUpstreamStatus,
	}
}

func (s *Service) Routes(r chi.Router) {
	r.With(middleware.RequestSize(s.maxRequestBytes)).
		Post(s.chatPath, restHandler(s.logger, s.forwardUpstream, s.handleChat))
}

func (s *Service) handleChat(r *http.Request) (any, error) {
	req, err := parseRequest[wire.ChatRequest](r)
	if err != nil {
		return nil, err
	}
	return s.Chat(r.Context(), req)
}

// Chat runs one turn: validate, resolve the adapter, make exactly one
// provider call and extract the reply. An unrecognised response shape is
// not an error; the reply becomes wire.ExtractionFailedText and the raw body is
// returned untouched.
func (s *Service) Chat(ctx context.Context, req wire.ChatRequest) (resp wire.ChatResponse, err error) {
	label := providers.MetricLabel(req.Provider)
	outcome := outcomeOK
	defer func() {
		if err != nil {
			outcome = outcomeFor(err)
		}
		s.metrics.RelayRequests.WithLabelValues(label, outcome).Inc()
	}()

	messages, err := validate(req)
	if err != nil {
		return wire.ChatResponse{}, err
	}

	adapter, isCustom, err := s.registry.Resolve(req.Provider, req.CustomAPIConfig)
	if err != nil {
		return wire.ChatResponse{}, err
	}
	log := s.logger.With().Str("provider", req.Provider).Bool("custom", isCustom).Logger()
	if isCustom {
		label = providers.Custom
		if s.registry.IsBuiltin(req.Provider) {
			log.Warn().Msg("custom api id collides with a built-in provider; using the custom config")
		}
	} else if req.APIKey == "" {
		return wire.ChatResponse{}, providers.Invalidf("apiKey is required for provider %q", req.Provider)
	}

	body, err := s.dispatcher.Dispatch(ctx, adapter, providers.ChatRequest{
		Messages: messages,
		Model:    req.Model,
		APIKey:   req.APIKey,
	})
	if err != nil {
		return wire.ChatResponse{}, err
	}

	raw, parsed, parseErr := rawResponse(body)
	var text string
	if parseErr != nil {
		err = &providers.ExtractionError{Provider: adapter.ID(), Shape: jsonvalue.NewString(string(body)).Preview(200)}
	} else {
		text, err = adapter.Extract(parsed)
	}
	if err != nil {
		var xerr *providers.ExtractionError
		if !errors.As(err, &xerr) {
			return wire.ChatResponse{}, err
		}
		outcome = outcomeExtractionFailed
		s.metrics.ExtractionFailures.WithLabelValues(label).Inc()
		log.Warn().Str("shape", xerr.Shape).Msg("could not extract reply from provider response")
		return wire.ChatResponse{AIResponse: wire.ExtractionFailedText, RawResponse: raw}, nil
	}

	log.Debug().Int("messages", len(messages)).Msg("chat turn relayed")
	return wire.ChatResponse{AIResponse: text, RawResponse: raw}, nil
}

// validate checks the required fields and maps UI senders to roles. A nil
// message list is missing; an empty one is allowed through.
func validate(req wire.ChatRequest) ([]providers.Message, error) {
	if req.Provider == "" {
		return nil, providers.Invalidf("provider is required")
	}
	if req.Messages == nil {
		return nil, providers.Invalidf("messages is required")
	}
	if req.APIKey == "" && req.CustomAPIConfig == nil {
		return nil, providers.Invalidf("apiKey or customApiConfig is required")
	}

	out := make([]providers.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		role, ok := roleFor(m.Sender)
		if !ok {
			return nil, providers.Invalidf("messages[%d]: unknown sender %q", i, m.Sender)
		}
		out = append(out, providers.Message{Role: role, Content: m.Text})
	}
	return out, nil
}

// roleFor never maps "ai" to system; a system entry only comes from an
// explicit system sender.
func roleFor(sender string) (string, bool) {
	switch sender {
	case wire.SenderUser:
		return providers.RoleUser, true
	case wire.SenderAI:
		return providers.RoleAssistant, true
	case wire.SenderSystem:
		return providers.RoleSystem, true
	default:
		return "", false
	}
}

// rawResponse returns the body as it should be echoed to the caller. A
// body that is not JSON is echoed as a JSON string.
func rawResponse(body []byte) (json.RawMessage, jsonvalue.Value, error) {
	parsed, err := jsonvalue.Parse(body)
	if err == nil {
		return json.RawMessage(body), parsed, nil
	}
	quoted, mErr := json.Marshal(string(body))
	if mErr != nil {
		return json.RawMessage(`null`), jsonvalue.Value{}, err
	}
	return json.RawMessage(quoted), jsonvalue.Value{}, err
}

func outcomeFor(err error) string {
	var (
		verr *providers.ValidationError
		cerr *codedError
		herr *providers.ProviderHTTPError
		nerr *providers.ProviderNetworkError
		lerr *providers.ResponseTooLargeError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &cerr):
		return outcomeInvalid
	case errors.As(err, &herr), errors.As(err, &lerr):
		return outcomeUpstreamError
	case errors.As(err, &nerr):
		return outcomeNetworkError
	default:
		return outcomeError
	}
}
