package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"autopilot/internal/domain"
)

const (
	openAIDefaultModel      = "gpt-3.5-turbo"
	openAIDefaultEmbedModel = "text-embedding-3-small"
	defaultHTTPTimeout      = 120 * time.Second
	defaultMaxRetries       = 2
)

// OpenAI implements domain.Provider and domain.Embedder for OpenAI-compatible
// APIs.
type OpenAI struct {
	client     openai.Client
	model      string
	embedModel string
	logger     *slog.Logger
}

type OpenAIConfig struct {
	APIKey         string
	APIBase        string // optional; OpenAI-compatible endpoint
	Model          string
	EmbeddingModel string
	MaxRetries     int
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = openAIDefaultEmbedModel
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
	return &OpenAI{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		embedModel: cfg.EmbeddingModel,
		logger:     cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }
func (o *OpenAI) Models() []string {
	return []string{"gpt-3.5-turbo", "gpt-4o", "gpt-4o-mini", "gpt-4.1"}
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
		TopP:        openai.Float(req.TopP),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(req.FrequencyPenalty)
	}
	if req.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(req.PresencePenalty)
	}
	if len(req.LogitBias) > 0 {
		params.LogitBias = req.LogitBias
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat: no choices in response")
	}
	return &domain.ChatResponse{
		Content:   resp.Choices[0].Message.Content,
		Model:     resp.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Embed returns the embedding vector of text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// toOpenAIMessages maps chat turns; user turns carrying an image become
// multi-part messages.
func toOpenAIMessages(msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if m.ImageURL == "" {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			out = append(out, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(m.Content),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: m.ImageURL}),
			}))
		}
	}
	return out
}
