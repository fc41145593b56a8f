package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	duckDuckGoEndpoint = "https://api.duckduckgo.com/"
	searchTimeout      = 15 * time.Second
	maxRelatedTopics   = 5
	maxResponseBytes   = 1 << 20
	userAgent          = "autopilot/1.0"
)

// DuckDuckGo answers queries from the DuckDuckGo Instant Answer API. It needs
// no key and serves as the fallback when Perplexity is not configured.
type DuckDuckGo struct {
	endpoint  string
	client    *http.Client
	retryBase time.Duration
	logger    *slog.Logger
}

type DuckDuckGoConfig struct {
	Endpoint   string // defaults to the public API
	HTTPClient *http.Client
	RetryBase  time.Duration
	Logger     *slog.Logger
}

func NewDuckDuckGo(cfg DuckDuckGoConfig) *DuckDuckGo {
	if cfg.Endpoint == "" {
		cfg.Endpoint = duckDuckGoEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: searchTimeout}
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DuckDuckGo{
		endpoint:  cfg.Endpoint,
		client:    cfg.HTTPClient,
		retryBase: cfg.RetryBase,
		logger:    cfg.Logger,
	}
}

type ddgResponse struct {
	Abstract      string `json:"Abstract"`
	Heading       string `json:"Heading"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// Search returns the instant answer as prose. An empty string means nothing
// relevant was found.
func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("empty search query")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")
	endpoint := d.endpoint + "?" + params.Encode()

	resp, err := doWithRetry(ctx, d.client, d.retryBase, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		return req, nil
	}, d.logger)
	if err != nil {
		return "", fmt.Errorf("duckduckgo search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("duckduckgo search: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var results []string
	if ddg.Answer != "" {
		results = append(results, ddg.Answer+".")
	}
	if ddg.Abstract != "" {
		line := ddg.Abstract
		if ddg.AbstractURL != "" {
			line += " (source: " + ddg.AbstractURL + ")"
		}
		results = append(results, line)
	}
	n := 0
	for _, topic := range ddg.RelatedTopics {
		if n >= maxRelatedTopics {
			break
		}
		if topic.Text != "" {
			results = append(results, strings.TrimSuffix(topic.Text, ".")+".")
			n++
		}
	}
	return strings.Join(results, " "), nil
}
