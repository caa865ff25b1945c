package registry

import (
	"sort"

	"github.com/ChatGPT-CN/chat-ai/internal/providers"
	"github.com/ChatGPT-CN/chat-ai/internal/providers/anthropic_messages"
	"github.com/ChatGPT-CN/chat-ai/internal/providers/custom_http"
	"github.com/ChatGPT-CN/chat-ai/internal/providers/gemini"
	"github.com/ChatGPT-CN/chat-ai/internal/providers/openai_compat"
)

// Registry maps built-in provider ids to their adapters. Adding a provider
// is a table entry, not a new branch in the relay.
type Registry struct {
	builtin map[string]providers.Adapter
}

func New(endpoints providers.Endpoints) *Registry {
	endpoints = endpoints.WithDefaults()
	r := &Registry{builtin: map[string]providers.Adapter{}}
	r.Register(openai_compat.NewDeepSeek(endpoints.DeepSeekURL))
	r.Register(openai_compat.NewOpenAI(endpoints.OpenAIURL))
	r.Register(anthropic_messages.New(anthropic_messages.Config{
		URL:     endpoints.AnthropicURL,
		Version: endpoints.AnthropicVersion,
	}))
	r.Register(gemini.New(gemini.Config{BaseURL: endpoints.GeminiURL}))
	return r
}

func (r *Registry) Register(a providers.Adapter) {
	r.builtin[a.ID()] = a
}

func (r *Registry) Lookup(id string) (providers.Adapter, error) {
	if a, ok := r.builtin[id]; ok {
		return a, nil
	}
	return nil, &providers.UnsupportedProviderError{Provider: id, Reserved: IsReserved(id)}
}

func (r *Registry) IsBuiltin(id string) bool {
	_, ok := r.builtin[id]
	return ok
}

func (r *Registry) Known() []string {
	out := make([]string, 0, len(r.builtin))
	for id := range r.builtin {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Custom(cfg providers.CustomConfig) providers.Adapter {
	return custom_http.New(cfg)
}

// Resolve picks the adapter for one chat turn. The custom config is used
// when, and only when, its id equals the requested provider; that includes
// the case where the id shadows a built-in key.
func (r *Registry) Resolve(providerID string, custom *providers.CustomConfig) (adapter providers.Adapter, isCustom bool, err error) {
	if custom != nil && custom.ID == providerID {
		return r.Custom(*custom), true, nil
	}
	a, err := r.Lookup(providerID)
	if err != nil {
		return nil, false, err
	}
	return a, false, nil
}

// IsReserved reports provider keys that hold credentials but have no adapter.
func IsReserved(id string) bool {
	return id == providers.Replicate || id == providers.OpenRouter
}
