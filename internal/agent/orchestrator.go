package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autopilot/internal/domain"
	"autopilot/internal/memory"
	"autopilot/internal/metrics"
)

const (
	replyMaxTokens  = 500
	searchMaxTokens = 2048

	FallbackReply     = "An error occurred generating a reply. (No API Key or API error)"
	emptyReply        = "Ok."
	searchInstruction = "Use the above search result in your answer. Remove any '/search' references in final."

	searchMissing = "No live info (missing Perplexity token)."
	searchFailed  = "Error retrieving info."
	searchEmpty   = "No relevant info found."
)

const (
	replyFrequencyPenalty = 0.2
	replyPresencePenalty  = 0.4
)

// replyLogitBias steers the reply model's token choice. Ids are for the
// cl100k tokenizer.
var replyLogitBias = map[string]int64{
	"63623": -100,
	"17792": -100,
	"1697":  25,
	"4370":  25,
	"43":    10,
	"8131":  10,
	"46":    10,
}

// Reply is the outcome of one generation.
type Reply struct {
	Text     string
	Fallback bool // Text is the static fallback
	Searches int
	Memories int
}

// Orchestrator produces a reply: it builds the context, calls the chat
// model and interprets the /search and /addmemory directives.
type Orchestrator struct {
	provider    domain.Provider
	searcher    domain.Searcher
	store       *memory.Store
	builder     *ContextBuilder
	settings    func() Settings
	sendNow     func(ctx context.Context, conversationID, text string) error
	onImportant func()
	logger      *slog.Logger
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Provider domain.Provider
	Searcher domain.Searcher // optional
	Store    *memory.Store
	Builder  *ContextBuilder
	Settings func() Settings
	// SendNow delivers text that precedes a /search directive immediately.
	SendNow func(ctx context.Context, conversationID, text string) error
	// OnImportant runs after /addmemory changed important memory.
	OnImportant func()
	Logger      *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(DefaultSettings())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		provider:    cfg.Provider,
		searcher:    cfg.Searcher,
		store:       cfg.Store,
		builder:     cfg.Builder,
		settings:    cfg.Settings,
		sendNow:     cfg.SendNow,
		onImportant: cfg.OnImportant,
		logger:      cfg.Logger,
	}
}

// Generate returns the reply for conversationID. Model failures yield the
// static fallback; they are never returned as errors.
func (o *Orchestrator) Generate(ctx context.Context, conversationID string, started time.Time, cross bool) Reply {
	if o.provider == nil {
		return Reply{Text: FallbackReply, Fallback: true}
	}
	st := o.settings()
	msgs := o.builder.Build(ctx, conversationID, started, cross)

	text, err := o.complete(ctx, msgs, replyMaxTokens, st)
	if err != nil {
		o.logger.Error("reply generation failed", "conversation", conversationID, "err", err)
		return Reply{Text: FallbackReply, Fallback: true}
	}
	reply := Reply{}
	text = strings.TrimSpace(text)

	for reply.Searches < maxSearchDirectives {
		d, ok := findSearch(text)
		if !ok {
			break
		}
		reply.Searches++
		if d.Before != "" && o.sendNow != nil {
			if err := o.sendNow(ctx, conversationID, d.Before); err != nil {
				o.logger.Warn("failed to send text before search", "conversation", conversationID, "err", err)
			}
		}

		note := fmt.Sprintf("Search query: %s\nResult: %s\n(Use your own words; do not copy verbatim.)", d.Query, o.search(ctx, d.Query))
		o.store.Append(memory.TierShort, domain.MemoryEntry{
			ConversationID: conversationID,
			Role:           domain.RoleSystem,
			Kind:           domain.KindMessage,
			Content:        note,
			Ephemeral:      true,
		})
		msgs = append(msgs,
			domain.Message{Role: "system", Content: note},
			domain.Message{Role: "system", Content: searchInstruction},
		)

		text, err = o.complete(ctx, msgs, searchMaxTokens, st)
		if err != nil {
			o.logger.Error("reply generation after search failed", "conversation", conversationID, "err", err)
			return Reply{Text: FallbackReply, Fallback: true, Searches: reply.Searches}
		}
		text = StripMetadata(strings.TrimSpace(text))
	}

	memories, text := extractMemories(text)
	if st.ImportantEnabled {
		for _, m := range memories {
			o.store.Append(memory.TierImportant, domain.MemoryEntry{
				Role:    domain.RoleSystem,
				Kind:    domain.KindImportant,
				Content: m,
			})
			reply.Memories++
		}
		if reply.Memories > 0 && o.onImportant != nil {
			o.onImportant()
		}
	}

	if text == "" {
		text = emptyReply
	}
	reply.Text = text
	return reply
}

func (o *Orchestrator) complete(ctx context.Context, msgs []domain.Message, maxTokens int, st Settings) (string, error) {
	start := time.Now()
	resp, err := o.provider.Chat(ctx, domain.ChatRequest{
		Messages:    msgs,
		Model:       st.LLMModel,
		MaxTokens:   maxTokens,
		Temperature: st.Reply.Temperature,
		TopP:        st.Reply.TopP,

		FrequencyPenalty: replyFrequencyPenalty,
		PresencePenalty:  replyPresencePenalty,
		LogitBias:        replyLogitBias,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (o *Orchestrator) search(ctx context.Context, query string) string {
	if o.searcher == nil {
		return searchMissing
	}
	result, err := o.searcher.Search(ctx, query)
	if err != nil {
		o.logger.Warn("search failed", "query", query, "err", err)
		return searchFailed
	}
	if strings.TrimSpace(result) == "" {
		return searchEmpty
	}
	return result
}
