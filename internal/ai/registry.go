package ai

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/uptail/sales-agent/internal/config"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get builds the named provider. An empty model selects the configured default.
func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Provider: name, Reason: "unknown ai provider"}
	}
	return f(ctx, model)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewDefaultRegistry registers every built-in backend with its settings from cfg.
func NewDefaultRegistry(cfg config.Config) *Registry {
	reg := NewRegistry()

	reg.Register("openai", func(_ context.Context, model string) (Provider, error) {
		p, err := NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, or(model, cfg.OpenAIModel), cfg.OpenAIEmbeddingModel)
		return compat(p, err, cfg.LLMTimeout)
	})
	reg.Register("vercel", func(_ context.Context, model string) (Provider, error) {
		p, err := NewVercelProvider(cfg.VercelBaseURL, cfg.VercelAPIKey, or(model, cfg.VercelModel), cfg.VercelEmbeddingModel)
		return compat(p, err, cfg.LLMTimeout)
	})
	reg.Register("openrouter", func(_ context.Context, model string) (Provider, error) {
		p, err := NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, or(model, cfg.OpenRouterModel), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
		return compat(p, err, cfg.LLMTimeout)
	})
	reg.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		p := NewOllamaProvider(cfg.OllamaBaseURL, or(model, cfg.OllamaModel), cfg.OllamaEmbeddingModel)
		if cfg.LLMTimeout > 0 {
			p.Client.Timeout = cfg.LLMTimeout
		}
		return p, nil
	})

	return reg
}

// compat converts a constructor result and applies the configured client
// timeout; a failed build yields a nil Provider.
func compat(p *OpenAIProvider, err error, timeout time.Duration) (Provider, error) {
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		p.Client.Timeout = timeout
	}
	return p, nil
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
