package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autopilot/internal/domain"
)

// QueryKind selects the instruction used to synthesize a retrieval query.
type QueryKind string

const (
	QueryDefault     QueryKind = "default"
	QueryPersonality QueryKind = "personality"
)

const (
	queryMaxTokens    = 500
	queryHistoryLimit = 10
)

var queryPrompts = map[QueryKind]string{
	QueryDefault:     "You are an expert in generating precise retrieval queries from conversation context. Produce a short, clear query capturing key topics and essential info.",
	QueryPersonality: "You are an expert in analyzing conversational nuances to identify personality traits. Generate a short, focused query for retrieving relevant personality details.",
}

const queryPromptSuffix = " Reference user's username and user's user id whenever possible. Refer to the assistant's name where applicable."

// Conversation returns short-term entries up to upTo, oldest first, capped
// at the newest limit entries (limit <= 0 means all). In cross mode every
// conversation is included and the latest entry of conversationID is moved
// to the end.
func (s *Store) Conversation(conversationID string, upTo time.Time, limit int, cross bool) []domain.MemoryEntry {
	scope := conversationID
	if cross {
		scope = ""
	}
	var out []domain.MemoryEntry
	for _, e := range s.List(TierShort, scope) {
		if !upTo.IsZero() && e.Timestamp.After(upTo) {
			continue
		}
		out = append(out, e)
	}
	if cross {
		last := -1
		for i, e := range out {
			if e.ConversationID == conversationID {
				last = i
			}
		}
		if last >= 0 && last != len(out)-1 {
			initiating := out[last]
			out = append(out[:last], out[last+1:]...)
			out = append(out, initiating)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// HistoryLine renders an entry the way it is shown to the model:
// "[name (ID: id)]: content", with the conversation appended in cross mode.
// Ephemeral notes are returned verbatim.
func HistoryLine(e domain.MemoryEntry, cross bool) string {
	if e.Ephemeral {
		return e.Content
	}
	return HistoryLabel(e, cross) + ": " + e.Content
}

// HistoryLabel is the bracketed author tag of HistoryLine.
func HistoryLabel(e domain.MemoryEntry, cross bool) string {
	label := fmt.Sprintf("[%s (ID: %s)]", e.AuthorName, e.AuthorID)
	if cross && e.ConversationID != "" {
		label += fmt.Sprintf(" [Channel: %s]", e.ConversationID)
	}
	return label
}

// Retriever ranks long-term and personality memory against a query
// synthesized from the recent conversation.
type Retriever struct {
	store    *Store
	provider domain.Provider
	embedder domain.Embedder
	settings func() Settings
	logger   *slog.Logger
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	Store    *Store
	Provider domain.Provider
	Embedder domain.Embedder
	Settings func() Settings
	Logger   *slog.Logger
}

func NewRetriever(cfg RetrieverConfig) *Retriever {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(DefaultSettings())
	}
	return &Retriever{
		store:    cfg.Store,
		provider: cfg.Provider,
		embedder: cfg.Embedder,
		settings: cfg.Settings,
		logger:   cfg.Logger,
	}
}

// SynthesizeQuery asks the model for a short retrieval query built from the
// last few lines of the conversation.
func (r *Retriever) SynthesizeQuery(ctx context.Context, conversationID string, kind QueryKind) (string, error) {
	if r.provider == nil {
		return "", errors.New("no chat provider configured")
	}
	st := r.settings()
	prompt, ok := queryPrompts[kind]
	if !ok {
		prompt = queryPrompts[QueryDefault]
	}

	var lines []string
	for _, e := range r.store.Conversation(conversationID, time.Time{}, queryHistoryLimit, st.CrossConversation) {
		lines = append(lines, HistoryLine(e, st.CrossConversation))
	}

	resp, err := r.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: prompt + queryPromptSuffix},
			{Role: "user", Content: fmt.Sprintf(
				"Extract key points from the conversation below and generate a concise query for memory retrieval. Your response will be used directly as an embeddings query.\n\n%s\n\nQuery:",
				strings.Join(lines, "\n"))},
		},
		Model:       st.SummaryModel,
		MaxTokens:   queryMaxTokens,
		Temperature: domain.Deterministic.Temperature,
		TopP:        domain.Deterministic.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("retrieval query: %w", err)
	}
	q := strings.TrimSpace(resp.Content)
	if q == "" {
		return "", errors.New("empty retrieval query")
	}
	return q, nil
}

// Embed returns a vector for the synthesized query of the given kind.
func (r *Retriever) Embed(ctx context.Context, conversationID string, kind QueryKind) ([]float64, error) {
	if r.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	q, err := r.SynthesizeQuery(ctx, conversationID, kind)
	if err != nil {
		return nil, err
	}
	vec, err := r.embedder.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed retrieval query: %w", err)
	}
	return vec, nil
}

// LongTerm returns the k long-term summaries most similar to the
// conversation. Failures yield no results.
func (r *Retriever) LongTerm(ctx context.Context, conversationID string, k int) []Scored {
	st := r.settings()
	if !st.LongTermStorage {
		return nil
	}
	scope := conversationID
	if st.CrossConversation {
		scope = ""
	}
	var pool []domain.MemoryEntry
	for _, e := range r.store.List(TierLong, scope) {
		if e.Kind == domain.KindLongSummary {
			pool = append(pool, e)
		}
	}
	if len(pool) == 0 {
		return nil
	}
	vec, err := r.Embed(ctx, conversationID, QueryDefault)
	if err != nil {
		r.logger.Warn("long-term retrieval skipped", "conversation", conversationID, "err", err)
		return nil
	}
	return TopK(pool, vec, k)
}

// Personality returns the k personality traits most relevant to the
// conversation.
func (r *Retriever) Personality(ctx context.Context, conversationID string, k int) []Scored {
	pool := r.store.List(TierPersonality, "")
	if len(pool) == 0 {
		return nil
	}
	vec, err := r.Embed(ctx, conversationID, QueryPersonality)
	if err != nil {
		r.logger.Warn("personality retrieval skipped", "conversation", conversationID, "err", err)
		return nil
	}
	return TopK(pool, vec, k)
}
