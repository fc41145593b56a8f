package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"autopilot/internal/config"
	"autopilot/internal/domain"
)

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches model providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func timeout(pc config.ProviderConfig) time.Duration {
	if pc.TimeoutSeconds <= 0 {
		return defaultHTTPTimeout
	}
	return time.Duration(pc.TimeoutSeconds) * time.Second
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:         pc.APIKey,
			APIBase:        pc.APIBase,
			Model:          pc.DefaultModel,
			EmbeddingModel: pc.EmbeddingModel,
			MaxRetries:     pc.MaxRetries,
			HTTPClient:     SharedHTTPClient(timeout(pc)),
			Logger:         logger,
		})
	}
	f.constructors["claude"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			MaxRetries: pc.MaxRetries,
			HTTPClient: SharedHTTPClient(timeout(pc)),
			Logger:     logger,
		})
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Re-check under write lock (another goroutine may have created it).
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	kind := pc.KindFor(name)
	ctor, found := f.constructors[kind]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor registered for kind %q", name, kind)
	}
	p := ctor(pc, f.logger.With("provider", name))
	f.cache[name] = p
	return p, nil
}

// DefaultProvider returns the configured default provider.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	return f.Get("")
}

// Chat returns the provider used for every model call: the failover chain
// when one is configured, otherwise the default provider. Disabled chain
// entries are skipped.
func (f *Factory) Chat() (domain.Provider, error) {
	if len(f.cfg.General.FailoverChain) == 0 {
		return f.DefaultProvider()
	}
	var chain []domain.Provider
	for _, name := range f.cfg.General.FailoverChain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping failover entry", "provider", name, "err", err)
			continue
		}
		chain = append(chain, p)
	}
	switch len(chain) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain")
	case 1:
		return chain[0], nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// Embedder returns the embedding source: the chat provider when it can
// embed, else the first enabled provider that can. It returns nil when no
// provider embeds; retrieval then falls back to recency.
func (f *Factory) Embedder() domain.Embedder {
	if p, err := f.Chat(); err == nil {
		if e, ok := p.(domain.Embedder); ok {
			return e
		}
	}
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil {
			continue
		}
		if e, ok := p.(domain.Embedder); ok {
			return e
		}
	}
	return nil
}
