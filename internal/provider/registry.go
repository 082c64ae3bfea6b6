package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/howard-nolan/docchat/internal/apperr"
	"github.com/howard-nolan/docchat/internal/config"
)

// ID identifies a configured provider. It doubles as the model selector
// clients send ("gpt" or "deepseek").
type ID string

const (
	GPT      ID = "gpt"
	DeepSeek ID = "deepseek"
)

// ---------------------------------------------------------------------------
// Variant: the closed set of provider behaviours
// ---------------------------------------------------------------------------

// Variant captures everything that differs between providers apart from
// endpoint and credentials. The unexported method closes the set: only
// this package can add a variant, and adding one means implementing every
// method below.
type Variant interface {
	// SystemPrompt returns the persona for an ungrounded chat, or for a
	// question about an attached document when grounded is true.
	SystemPrompt(grounded bool) string

	// Model returns the model name to send. override is the caller's
	// requested model; variants that don't allow overrides ignore it.
	Model(override string) string

	variant()
}

type openAIVariant struct {
	defaultModel string
}

// OpenAIVariant is the primary provider: callers may override the model.
func OpenAIVariant(defaultModel string) Variant {
	return openAIVariant{defaultModel: defaultModel}
}

func (v openAIVariant) SystemPrompt(grounded bool) string {
	if grounded {
		return "You are a PDF analysis assistant."
	}
	return "You are a helpful assistant."
}

func (v openAIVariant) Model(override string) string {
	if override != "" {
		return override
	}
	return v.defaultModel
}

func (openAIVariant) variant() {}

type deepSeekVariant struct {
	model string
}

// DeepSeekVariant is the secondary provider: the model is fixed.
func DeepSeekVariant(model string) Variant {
	return deepSeekVariant{model: model}
}

func (v deepSeekVariant) SystemPrompt(grounded bool) string {
	if grounded {
		return "You are DeepSeek, a PDF analysis assistant."
	}
	return "You are DeepSeek, a focused QA assistant."
}

func (v deepSeekVariant) Model(string) string {
	return v.model
}

func (deepSeekVariant) variant() {}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider is one configured LLM backend. It is built once at startup and
// never mutated, so it's safe to share across request goroutines.
type Provider struct {
	ID       ID
	Endpoint string   // full chat-completions URL
	APIKey   string   // sent as a Bearer token
	Proxy    *url.URL // nil when calls go direct
	Variant  Variant

	client *http.Client
}

// NewProvider creates a Provider that issues its calls through client.
func NewProvider(id ID, endpoint, apiKey string, variant Variant, client *http.Client) *Provider {
	return &Provider{
		ID:       id,
		Endpoint: endpoint,
		APIKey:   apiKey,
		Variant:  variant,
		client:   client,
	}
}

// DefaultModel is the model sent when the caller doesn't ask for one.
func (p *Provider) DefaultModel() string {
	return p.Variant.Model("")
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry maps model selectors to providers. It's read-only after
// NewRegistry returns.
type Registry struct {
	providers map[ID]*Provider
}

// NewRegistry builds both providers from configuration. The "gpt" provider
// routes through cfg.OpenAI.Proxy when one is set; "deepseek" always goes
// direct. timeout bounds every outbound call.
func NewRegistry(cfg config.ProvidersConfig, timeout time.Duration) (*Registry, error) {
	const op = "provider.NewRegistry"

	if cfg.OpenAI.APIURL == "" || cfg.OpenAI.APIKey == "" {
		return nil, apperr.Errorf(apperr.KindConfiguration, op, "gpt provider needs an endpoint and an API key")
	}
	if cfg.DeepSeek.APIURL == "" || cfg.DeepSeek.APIKey == "" {
		return nil, apperr.Errorf(apperr.KindConfiguration, op, "deepseek provider needs an endpoint and an API key")
	}

	var proxy *url.URL
	if cfg.OpenAI.Proxy != "" {
		u, err := url.Parse(cfg.OpenAI.Proxy)
		if err != nil {
			return nil, apperr.New(apperr.KindConfiguration, op, fmt.Errorf("parsing proxy url: %w", err))
		}
		proxy = u
	}

	gpt := NewProvider(GPT, cfg.OpenAI.APIURL, cfg.OpenAI.APIKey,
		OpenAIVariant(cfg.OpenAI.Model), newHTTPClient(proxy, timeout))
	gpt.Proxy = proxy

	deepseek := NewProvider(DeepSeek, cfg.DeepSeek.APIURL, cfg.DeepSeek.APIKey,
		DeepSeekVariant(cfg.DeepSeek.Model), newHTTPClient(nil, timeout))

	return &Registry{providers: map[ID]*Provider{
		GPT:      gpt,
		DeepSeek: deepseek,
	}}, nil
}

// Resolve looks up the provider for a model selector. It does no I/O.
func (r *Registry) Resolve(selector string) (*Provider, error) {
	p, ok := r.providers[ID(selector)]
	if !ok {
		return nil, apperr.Errorf(apperr.KindConfiguration, "provider.Resolve", "unknown model selector %q", selector)
	}
	return p, nil
}

// IDs returns the registered selectors in a stable order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
