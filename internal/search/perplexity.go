package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	perplexityBase   = "https://api.perplexity.ai"
	perplexityModel  = "sonar"
	perplexityPrompt = "You are a user searching the web. Return the result in paragraph form, no markdown or bullet points."

	// MissingToken is returned in place of a result when no token is set.
	MissingToken = "No live info (missing Perplexity token)."
)

// Perplexity searches through the Perplexity chat API, which speaks the
// OpenAI wire format.
type Perplexity struct {
	client openai.Client
	token  string
	model  string
	logger *slog.Logger
}

type PerplexityConfig struct {
	Token      string
	APIBase    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewPerplexity(cfg PerplexityConfig) *Perplexity {
	if cfg.APIBase == "" {
		cfg.APIBase = perplexityBase
	}
	if cfg.Model == "" {
		cfg.Model = perplexityModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * searchTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Perplexity{
		client: openai.NewClient(
			option.WithAPIKey(cfg.Token),
			option.WithBaseURL(cfg.APIBase),
			option.WithHTTPClient(cfg.HTTPClient),
			option.WithMaxRetries(1),
		),
		token:  cfg.Token,
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

// Search asks the model for a paragraph answering query.
func (p *Perplexity) Search(ctx context.Context, query string) (string, error) {
	if p.token == "" {
		p.logger.Warn("perplexity token not set")
		return MissingToken, nil
	}
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(perplexityPrompt),
			openai.UserMessage(query),
		},
		MaxTokens:        openai.Int(5000),
		Temperature:      openai.Float(0.2),
		TopP:             openai.Float(0.9),
		FrequencyPenalty: openai.Float(1),
	},
		option.WithJSONSet("return_images", false),
		option.WithJSONSet("return_related_questions", false),
	)
	if err != nil {
		return "", fmt.Errorf("perplexity search: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
