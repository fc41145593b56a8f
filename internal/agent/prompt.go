package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autopilot/internal/domain"
	"autopilot/internal/memory"
)

const (
	longMemoryTopK  = 5
	personalityTopK = 5
	displayTime     = "1/2/2006, 3:04:05 PM"
)

// ContextBuilder assembles the message list sent to the chat model for a
// reply: preamble, retrieved memory, then the recent transcript.
type ContextBuilder struct {
	store     *memory.Store
	retriever *memory.Retriever
	lookup    domain.ContextLookup
	settings  func() Settings
	memory    func() memory.Settings
	now       func() time.Time
	logger    *slog.Logger
}

// ContextBuilderConfig configures a ContextBuilder.
type ContextBuilderConfig struct {
	Store     *memory.Store
	Retriever *memory.Retriever    // optional
	Lookup    domain.ContextLookup // optional
	Settings  func() Settings
	Memory    func() memory.Settings
	Now       func() time.Time
	Logger    *slog.Logger
}

func NewContextBuilder(cfg ContextBuilderConfig) *ContextBuilder {
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(DefaultSettings())
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.StaticSettings(memory.DefaultSettings())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ContextBuilder{
		store:     cfg.Store,
		retriever: cfg.Retriever,
		lookup:    cfg.Lookup,
		settings:  cfg.Settings,
		memory:    cfg.Memory,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
}

// Build returns the model context for a reply in conversationID. History is
// limited to entries observed up to started; cross widens it to every
// conversation.
func (b *ContextBuilder) Build(ctx context.Context, conversationID string, started time.Time, cross bool) []domain.Message {
	st := b.settings()
	mst := b.memory()

	msgs := []domain.Message{{Role: "system", Content: b.preamble(ctx, conversationID, st)}}

	if mst.LongTermStorage && b.retriever != nil {
		for _, s := range b.retriever.LongTerm(ctx, conversationID, longMemoryTopK) {
			msgs = append(msgs, domain.Message{Role: "system", Content: fmt.Sprintf(
				"[LONG MEMORY - Score: %.3f, Date=%s]:\n%s", s.Score, formatTime(s.Entry.Timestamp), s.Entry.Content)})
		}
	}

	for _, g := range b.store.List(memory.TierGlobal, "") {
		msgs = append(msgs, domain.Message{Role: "system", Content: fmt.Sprintf(
			"[GLOBAL MEM: %s, ID=%s, date=%s]\n%s", g.AuthorName, g.AuthorID, formatTime(g.Timestamp), g.Content)})
	}

	if st.ImportantEnabled {
		if important := b.store.List(memory.TierImportant, ""); len(important) > 0 {
			lines := make([]string, len(important))
			for i, e := range important {
				lines[i] = "[IMPORTANT]: " + e.Content
			}
			msgs = append(msgs, domain.Message{Role: "system", Content: strings.Join(lines, "\n")})
		}
	}

	if b.retriever != nil {
		for _, s := range b.retriever.Personality(ctx, conversationID, personalityTopK) {
			msgs = append(msgs, domain.Message{Role: "system", Content: fmt.Sprintf(
				"[PERSONALITY - Relevance=%.3f, Date=%s]:\n%s", s.Score, formatTime(s.Entry.Timestamp), s.Entry.Content)})
		}
	}

	return append(msgs, b.History(conversationID, started, 0, cross)...)
}

// History renders the short-term transcript as chat turns.
func (b *ContextBuilder) History(conversationID string, upTo time.Time, limit int, cross bool) []domain.Message {
	entries := b.store.Conversation(conversationID, upTo, limit, cross)
	msgs := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		if e.Ephemeral {
			msgs = append(msgs, domain.Message{Role: "system", Content: e.Content})
			continue
		}
		role := string(e.Role)
		if role == "" {
			role = string(domain.RoleUser)
		}
		label := memory.HistoryLabel(e, cross)
		if e.Kind == domain.KindImage && e.ImageURL != "" {
			text := label
			if strings.TrimSpace(e.Content) != "" {
				text = label + ": " + e.Content
			}
			msgs = append(msgs, domain.Message{Role: role, Content: text, ImageURL: e.ImageURL})
			continue
		}
		msgs = append(msgs, domain.Message{Role: role, Content: label + ": " + e.Content})
	}
	return msgs
}

func (b *ContextBuilder) preamble(ctx context.Context, conversationID string, st Settings) string {
	presence := domain.NoPresence
	channelInfo := ""
	if b.lookup != nil {
		if p := b.lookup.Presence(ctx); p != "" {
			presence = p
		}
		channelInfo = b.lookup.ChannelType(ctx, conversationID).Describe()
	}
	prompt := st.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return fmt.Sprintf("[Current date/time: %s]\n[Assistant Presence: %s]\n[Channel Info: %s]\n%s",
		formatTime(b.now()), presence, channelInfo, prompt)
}

func formatTime(t time.Time) string {
	return t.Local().Format(displayTime)
}
