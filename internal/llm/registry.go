package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
)

// Registry resolves the extension's "model" field to a provider.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

func NewRegistry(fallback string) *Registry {
	return &Registry{providers: make(map[string]Provider), fallback: fallback}
}

func (r *Registry) Register(name string, p Provider) {
	r.providers[strings.ToLower(name)] = p
}

// Get returns the named provider, the fallback provider for unknown names,
// or any registered provider when the fallback itself is not configured.
func (r *Registry) Get(name string) (Provider, bool) {
	if p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p, true
	}
	if p, ok := r.providers[r.fallback]; ok {
		return p, true
	}
	names := r.Names()
	if len(names) == 0 {
		return nil, false
	}
	return r.providers[names[0]], true
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers every provider that has credentials.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry(cfg.Server.DefaultProvider)

	if cfg.Providers.Sarvam.Enabled() {
		p, err := NewOpenAIClient(config.ProviderSarvam, cfg.Providers.Sarvam, true, logger)
		if err != nil {
			return nil, err
		}
		reg.Register(config.ProviderSarvam, p)
	}
	if cfg.Providers.OpenAI.Enabled() {
		p, err := NewOpenAIClient(config.ProviderOpenAI, cfg.Providers.OpenAI, false, logger)
		if err != nil {
			return nil, err
		}
		reg.Register(config.ProviderOpenAI, p)
	}
	if cfg.Providers.Gemini.Enabled() {
		p, err := NewGeminiClient(ctx, cfg.Providers.Gemini, logger)
		if err != nil {
			return nil, err
		}
		reg.Register(config.ProviderGemini, p)
	}

	if len(reg.providers) == 0 {
		return nil, fmt.Errorf("no language-model provider configured; set SARVAM_API_KEY, GEMINI_API_KEY or OPENAI_API_KEY")
	}
	return reg, nil
}
