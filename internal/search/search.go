// Package search provides the web lookups behind the /search directive.
package search

import (
	"log/slog"

	"autopilot/internal/domain"
)

// Config selects a backend.
type Config struct {
	Provider        string // "perplexity" | "duckduckgo" | "none"
	PerplexityToken string
	PerplexityModel string
	PerplexityBase  string
	Logger          *slog.Logger
}

// New builds the configured searcher. Perplexity without a token falls back
// to DuckDuckGo. "none" yields nil, which the orchestrator reports as no
// live info.
func New(cfg Config) domain.Searcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch cfg.Provider {
	case "none":
		return nil
	case "duckduckgo":
		return NewDuckDuckGo(DuckDuckGoConfig{Logger: cfg.Logger})
	}
	if cfg.PerplexityToken == "" {
		cfg.Logger.Info("no perplexity token, searching with duckduckgo")
		return NewDuckDuckGo(DuckDuckGoConfig{Logger: cfg.Logger})
	}
	return NewPerplexity(PerplexityConfig{
		Token:   cfg.PerplexityToken,
		APIBase: cfg.PerplexityBase,
		Model:   cfg.PerplexityModel,
		Logger:  cfg.Logger,
	})
}
