package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"autopilot/internal/domain"
)

const (
	claudeDefaultModel = "claude-3-5-haiku-latest"
	defaultMaxTokens   = 1024
)

// Claude implements domain.Provider for the Anthropic Messages API. Only
// temperature is forwarded; newer models refuse top_p alongside it.
type Claude struct {
	client anthropicsdk.Client
	model  string
	logger *slog.Logger
}

type ClaudeConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClaude creates a new Claude provider.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	return &Claude{
		client: anthropicsdk.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }
func (c *Claude) Models() []string {
	return []string{"claude-3-5-haiku-latest", "claude-sonnet-4-5", "claude-opus-4-1"}
}

func (c *Claude) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" || !strings.HasPrefix(model, "claude") {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system, msgs := toClaudeMessages(req.Messages)
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    msgs,
		Temperature: param.NewOpt(req.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude chat: %w", err)
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return &domain.ChatResponse{
		Content:   strings.Join(parts, ""),
		Model:     string(resp.Model),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// toClaudeMessages lifts system turns into the system prompt, in order.
// Images are passed by URL.
func toClaudeMessages(msgs []domain.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var (
		system []anthropicsdk.TextBlockParam
		out    []anthropicsdk.MessageParam
	)
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropicsdk.TextBlockParam{Text: m.Content})
			}
		case "assistant":
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(nonEmpty(m.Content))},
			})
		default:
			content := []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(nonEmpty(m.Content))}
			if m.ImageURL != "" {
				content = append(content, anthropicsdk.NewImageBlock(anthropicsdk.URLImageSourceParam{URL: m.ImageURL}))
			}
			out = append(out, anthropicsdk.MessageParam{Role: anthropicsdk.MessageParamRoleUser, Content: content})
		}
	}
	if len(out) == 0 {
		out = append(out, anthropicsdk.MessageParam{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(".")},
		})
	}
	return system, out
}

func nonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "."
	}
	return s
}
