package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"autopilot/internal/domain"
)

func TestStore_ConversationCrossModeMovesInitiatingLast(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	base := time.Unix(1000, 0)
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "A", Content: "a1", Timestamp: base})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "B", Content: "b1", Timestamp: base.Add(time.Second)})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "A", Content: "a2", Timestamp: base.Add(2 * time.Second)})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "B", Content: "b2", Timestamp: base.Add(3 * time.Second)})

	got := s.Conversation("A", time.Time{}, 0, true)
	var order []string
	for _, e := range got {
		order = append(order, e.Content)
	}
	if strings.Join(order, ",") != "a1,b1,b2,a2" {
		t.Errorf("unexpected cross order: %v", order)
	}

	scoped := s.Conversation("A", base.Add(time.Second), 0, false)
	if len(scoped) != 1 || scoped[0].Content != "a1" {
		t.Errorf("expected only a1 up to cutoff, got %+v", scoped)
	}
	if n := len(s.Conversation("B", time.Time{}, 1, false)); n != 1 {
		t.Errorf("expected limit to cap results, got %d", n)
	}
}

func TestHistoryLine(t *testing.T) {
	e := domain.MemoryEntry{ConversationID: "C", AuthorID: "7", AuthorName: "bob", Content: "hi"}
	if got := HistoryLine(e, false); got != "[bob (ID: 7)]: hi" {
		t.Errorf("got %q", got)
	}
	if got := HistoryLine(e, true); got != "[bob (ID: 7)] [Channel: C]: hi" {
		t.Errorf("got %q", got)
	}
	e.Ephemeral = true
	if got := HistoryLine(e, true); got != "hi" {
		t.Errorf("ephemeral entries render verbatim, got %q", got)
	}
}

func TestRetriever_LongTermScopedAndRanked(t *testing.T) {
	store := NewStore(StoreConfig{Logger: testLogger()})
	embedder := &mockEmbedder{}
	queryVec, _ := embedder.Embed(context.Background(), "query")

	store.Append(TierShort, domain.MemoryEntry{ConversationID: "C", AuthorName: "a", AuthorID: "1", Content: "hello"})
	store.Append(TierLong, domain.MemoryEntry{ConversationID: "C", Kind: domain.KindLongSummary, Content: "best", Embedding: queryVec})
	store.Append(TierLong, domain.MemoryEntry{ConversationID: "C", Kind: domain.KindLongSummary, Content: "other", Embedding: []float64{-1, 0, 0, 0, 0, 0, 0, 0}})
	store.Append(TierLong, domain.MemoryEntry{ConversationID: "D", Kind: domain.KindLongSummary, Content: "foreign", Embedding: queryVec})

	provider := &mockProvider{respond: func(req domain.ChatRequest) (string, error) { return "query", nil }}
	r := NewRetriever(RetrieverConfig{
		Store:    store,
		Provider: provider,
		Embedder: embedder,
		Settings: StaticSettings(DefaultSettings()),
		Logger:   testLogger(),
	})

	got := r.LongTerm(context.Background(), "C", 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 scoped results, got %d", len(got))
	}
	if got[0].Entry.Content != "best" || got[0].Score < 0.999 {
		t.Errorf("expected exact match first, got %q (%f)", got[0].Entry.Content, got[0].Score)
	}
	req := provider.calls[0]
	if !strings.Contains(req.Messages[1].Content, "[a (ID: 1)]: hello") {
		t.Errorf("query prompt missing history: %s", req.Messages[1].Content)
	}
	if req.Temperature != 0 || req.TopP != 1 || req.MaxTokens != queryMaxTokens {
		t.Errorf("unexpected query call parameters: %+v", req)
	}
}

func TestRetriever_FailuresYieldNothing(t *testing.T) {
	store := NewStore(StoreConfig{Logger: testLogger()})
	store.Append(TierPersonality, domain.MemoryEntry{Content: "calm", Embedding: []float64{1}})

	r := NewRetriever(RetrieverConfig{
		Store:    store,
		Provider: &mockProvider{respond: func(domain.ChatRequest) (string, error) { return "", errBoom }},
		Embedder: &mockEmbedder{},
		Logger:   testLogger(),
	})
	if got := r.Personality(context.Background(), "C", 5); got != nil {
		t.Errorf("expected no results when query synthesis fails, got %+v", got)
	}

	noEmbed := NewRetriever(RetrieverConfig{Store: store, Provider: &mockProvider{}, Logger: testLogger()})
	if got := noEmbed.Personality(context.Background(), "C", 5); got != nil {
		t.Errorf("expected no results without embedder, got %+v", got)
	}
}

func TestRetriever_SynthesizeQueryPrompts(t *testing.T) {
	store := NewStore(StoreConfig{Logger: testLogger()})
	provider := &mockProvider{respond: func(domain.ChatRequest) (string, error) { return " topic ", nil }}
	r := NewRetriever(RetrieverConfig{Store: store, Provider: provider, Logger: testLogger()})
	ctx := context.Background()

	for _, kind := range []QueryKind{QueryDefault, QueryPersonality, QueryKind("important")} {
		q, err := r.SynthesizeQuery(ctx, "C", kind)
		if err != nil || q != "topic" {
			t.Fatalf("%s: query=%q err=%v", kind, q, err)
		}
	}
	calls := provider.calls
	if systemPrompt(calls[0]) != queryPrompts[QueryDefault]+queryPromptSuffix {
		t.Errorf("default prompt = %q", systemPrompt(calls[0]))
	}
	if systemPrompt(calls[1]) != queryPrompts[QueryPersonality]+queryPromptSuffix {
		t.Errorf("personality prompt = %q", systemPrompt(calls[1]))
	}
	if systemPrompt(calls[2]) != systemPrompt(calls[0]) {
		t.Errorf("unknown kinds should use the default prompt, got %q", systemPrompt(calls[2]))
	}
}
