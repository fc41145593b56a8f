package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"autopilot/internal/domain"
)

// ErrPassInFlight is returned when a pass for the same conversation and
// stage is already running. The skipped work is picked up by the next
// trigger.
var ErrPassInFlight = errors.New("summarization pass already in flight")

// Stage identifies one step of the cascade.
type Stage string

const (
	StageShort  Stage = "short_to_medium"
	StageMedium Stage = "medium_to_long"
	StageLong   Stage = "long_recompaction"
)

const (
	summarizerID   = "summarizer"
	summarizerName = "Summarizer"

	// maxShortPasses bounds the catch-up loop of a single short-term pass.
	maxShortPasses = 8
)

// PassResult describes a finished pass that changed memory.
type PassResult struct {
	Stage          Stage
	ConversationID string
	Consumed       int // source entries removed
	Produced       int // destination entries created
	Dropped        int // segments whose summary failed
	Evicted        int
}

// Cascade promotes memory from short to medium to long term and keeps the
// long-term tier compact.
type Cascade struct {
	store      *Store
	summarizer *Summarizer
	embedder   domain.Embedder
	settings   func() Settings
	onPass     func(PassResult)
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// CascadeConfig configures a Cascade.
type CascadeConfig struct {
	Store    *Store
	Provider domain.Provider
	Embedder domain.Embedder // optional
	Settings func() Settings
	OnPass   func(PassResult) // optional; called after each pass that changed memory
	Logger   *slog.Logger
}

// NewCascade creates a Cascade. Call Attach to run it on short-term appends.
func NewCascade(cfg CascadeConfig) *Cascade {
	lgr := cfg.Logger
	if lgr == nil {
		lgr = slog.Default()
	}
	settings := cfg.Settings
	if settings == nil {
		settings = StaticSettings(DefaultSettings())
	}
	return &Cascade{
		store:      cfg.Store,
		summarizer: NewSummarizer(cfg.Provider, lgr),
		embedder:   cfg.Embedder,
		settings:   settings,
		onPass:     cfg.OnPass,
		logger:     lgr,
		inflight:   make(map[string]struct{}),
	}
}

// Attach hooks the cascade to short-term appends. Passes run in the
// background under ctx so appenders never block on the summarizer.
func (c *Cascade) Attach(ctx context.Context) {
	c.store.OnShortAppend(func(conversationID string, count int) {
		if count <= c.settings().ShortTermLimit {
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.PromoteShort(ctx, conversationID, false); err != nil && !errors.Is(err, ErrPassInFlight) {
				c.logger.Error("short-term pass failed", "conversation", conversationID, "err", err)
			}
		}()
	})
}

// Wait blocks until every background pass started by Attach has finished.
func (c *Cascade) Wait() {
	c.wg.Wait()
}

func (c *Cascade) begin(conversationID string, stage Stage) bool {
	key := conversationID + "|" + string(stage)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Cascade) end(conversationID string, stage Stage) {
	c.mu.Lock()
	delete(c.inflight, conversationID+"|"+string(stage))
	c.mu.Unlock()
}

// PromoteShort summarizes all but the newest retention short-term entries of
// a conversation into medium-term memory. Without force it only runs while
// the conversation is over the short-term limit.
func (c *Cascade) PromoteShort(ctx context.Context, conversationID string, force bool) error {
	if !c.begin(conversationID, StageShort) {
		return ErrPassInFlight
	}
	defer c.end(conversationID, StageShort)

	promoted := false
	for pass := 0; pass < maxShortPasses; pass++ {
		st := c.settings()
		entries := c.store.List(TierShort, conversationID)
		if !force && len(entries) <= st.ShortTermLimit {
			break
		}
		retention := st.ShortTermRetention
		if retention < 0 {
			retention = 0
		}
		if retention > len(entries) {
			retention = len(entries)
		}
		batch := entries[:len(entries)-retention]
		if len(batch) == 0 {
			break
		}

		res, err := c.promoteShortBatch(ctx, conversationID, batch, st)
		if err != nil {
			return err
		}
		if res.Consumed == 0 {
			break
		}
		promoted = true
		c.report(res)
		if force {
			break
		}
	}

	if !promoted {
		return nil
	}
	if err := c.PromoteMedium(ctx, conversationID, false); err != nil && !errors.Is(err, ErrPassInFlight) {
		return err
	}
	return nil
}

func (c *Cascade) promoteShortBatch(ctx context.Context, conversationID string, batch []domain.MemoryEntry, st Settings) (PassResult, error) {
	res := PassResult{Stage: StageShort, ConversationID: conversationID}
	ids := entryIDs(batch)

	// Without summaries the short tier is still bounded; old entries are
	// simply discarded.
	if !st.UseSummaries {
		res.Consumed = c.store.Remove(TierShort, idSet(ids))
		return res, nil
	}

	var lines []string
	for _, e := range batch {
		if e.Ephemeral {
			continue
		}
		lines = append(lines, transcriptLine(e))
	}
	if len(lines) == 0 {
		res.Consumed = c.store.Remove(TierShort, idSet(ids))
		return res, nil
	}

	groupID := NewID()
	var produced []domain.MemoryEntry
	for i, seg := range c.summarizer.Split(ctx, strings.Join(lines, "\n"), st) {
		summary, err := c.summarizeSegment(ctx, seg, st)
		if err != nil {
			res.Dropped++
			c.logger.Warn("segment summary dropped",
				"stage", StageShort, "conversation", conversationID, "segment", i+1, "err", err)
			continue
		}
		produced = append(produced, domain.MemoryEntry{
			ConversationID: conversationID,
			AuthorID:       summarizerID,
			AuthorName:     summarizerName,
			Role:           domain.RoleSystem,
			Kind:           domain.KindMediumSummary,
			Content:        fmt.Sprintf("[Segment #%d]\n%s", i+1, summary),
			GroupID:        groupID,
			SegmentNumber:  i + 1,
		})
	}
	if len(produced) == 0 {
		c.logger.Warn("no segment summarized, short-term memory kept",
			"conversation", conversationID, "entries", len(batch))
		return res, nil
	}

	c.store.Promote(TierShort, ids, TierMedium, produced)
	res.Consumed = len(ids)
	res.Produced = len(produced)
	c.logger.Info("short-term memory promoted",
		"conversation", conversationID,
		"summarized", len(ids),
		"segments", len(produced),
		"dropped", res.Dropped,
	)
	return res, nil
}

// PromoteMedium condenses the medium-term summaries of a conversation into
// embedded long-term entries once the trigger count is reached, or whenever
// force is set and there is something to promote.
func (c *Cascade) PromoteMedium(ctx context.Context, conversationID string, force bool) error {
	if !c.begin(conversationID, StageMedium) {
		return ErrPassInFlight
	}
	defer c.end(conversationID, StageMedium)

	st := c.settings()
	entries := c.store.List(TierMedium, conversationID)
	if len(entries) == 0 || (!force && len(entries) < st.MediumTriggerCount) {
		return nil
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, "[Medium Summary]: "+e.Content)
	}

	res := PassResult{Stage: StageMedium, ConversationID: conversationID}
	groupID := NewID()
	var produced []domain.MemoryEntry
	for i, seg := range c.summarizer.Split(ctx, strings.Join(lines, "\n"), st) {
		summary, err := c.summarizeSegment(ctx, seg, st)
		if err != nil {
			res.Dropped++
			c.logger.Warn("segment summary dropped",
				"stage", StageMedium, "conversation", conversationID, "segment", i+1, "err", err)
			continue
		}
		content := fmt.Sprintf("[MTM-Segment #%d]\n%s", i+1, summary)
		produced = append(produced, domain.MemoryEntry{
			ConversationID: conversationID,
			AuthorID:       summarizerID,
			AuthorName:     summarizerName,
			Role:           domain.RoleSystem,
			Kind:           domain.KindLongSummary,
			Content:        content,
			GroupID:        groupID,
			SegmentNumber:  i + 1,
			Embedding:      c.embed(ctx, content, st),
		})
	}
	if len(produced) == 0 {
		return nil
	}

	c.store.Promote(TierMedium, entryIDs(entries), TierLong, produced)
	res.Consumed = len(entries)
	res.Produced = len(produced)
	c.report(res)

	if err := c.CompactLong(ctx, conversationID); err != nil && !errors.Is(err, ErrPassInFlight) {
		return err
	}
	return nil
}

// CompactLong replaces the long-term summaries of a conversation with a
// freshly condensed set once the trigger count is reached, then evicts the
// oldest entries beyond the long-term limit.
func (c *Cascade) CompactLong(ctx context.Context, conversationID string) error {
	if !c.begin(conversationID, StageLong) {
		return ErrPassInFlight
	}
	defer c.end(conversationID, StageLong)

	st := c.settings()
	res := PassResult{Stage: StageLong, ConversationID: conversationID}

	longEntries := c.longSummaries(conversationID)
	if st.UseSummaries && st.LongTriggerCount > 0 && len(longEntries) >= st.LongTriggerCount {
		lines := make([]string, 0, len(longEntries))
		for _, e := range longEntries {
			lines = append(lines, "[Long Summary]: "+e.Content)
		}
		groupID := NewID()
		var produced []domain.MemoryEntry
		for i, seg := range c.summarizer.Split(ctx, strings.Join(lines, "\n"), st) {
			summary, err := c.summarizeSegment(ctx, seg, st)
			if err != nil {
				res.Dropped++
				c.logger.Warn("segment summary dropped",
					"stage", StageLong, "conversation", conversationID, "segment", i+1, "err", err)
				continue
			}
			produced = append(produced, domain.MemoryEntry{
				ConversationID: conversationID,
				AuthorID:       summarizerID,
				AuthorName:     summarizerName,
				Role:           domain.RoleSystem,
				Kind:           domain.KindLongSummary,
				Content:        summary,
				GroupID:        groupID,
				SegmentNumber:  i + 1,
				Embedding:      c.embed(ctx, summary, st),
			})
		}
		if len(produced) > 0 {
			c.store.Promote(TierLong, entryIDs(longEntries), TierLong, produced)
			res.Consumed = len(longEntries)
			res.Produced = len(produced)
		}
	}

	if st.LongTermLimit >= 0 {
		res.Evicted = c.store.EvictOverLimit(TierLong, conversationID, st.LongTermLimit)
	}
	if res.Consumed > 0 || res.Evicted > 0 || res.Dropped > 0 {
		c.report(res)
	}
	return nil
}

// summarizeSegment summarizes one segment and records any personality
// change it reveals.
func (c *Cascade) summarizeSegment(ctx context.Context, segment string, st Settings) (string, error) {
	summary, err := c.summarizer.Summarize(ctx, segment, st)
	if err != nil {
		return "", err
	}
	if trait, ok := c.summarizer.DetectPersonality(ctx, summary, st); ok {
		c.AddPersonality(ctx, trait)
	}
	return summary, nil
}

// AddPersonality stores a personality trait and embeds it best-effort.
func (c *Cascade) AddPersonality(ctx context.Context, text string) domain.MemoryEntry {
	st := c.settings()
	st.LongTermStorage = true
	return c.store.Append(TierPersonality, domain.MemoryEntry{
		Role:      domain.RoleSystem,
		Kind:      domain.KindPersonality,
		Content:   text,
		Embedding: c.embed(ctx, text, st),
	})
}

// Backfill embeds long-term and personality entries that have no vector
// yet. It returns how many entries were updated.
func (c *Cascade) Backfill(ctx context.Context) int {
	st := c.settings()
	if c.embedder == nil || !st.LongTermStorage {
		return 0
	}
	updated := 0
	for _, tier := range []Tier{TierLong, TierPersonality} {
		for _, e := range c.store.List(tier, "") {
			if e.HasEmbedding() {
				continue
			}
			if ctx.Err() != nil {
				return updated
			}
			vec := c.embed(ctx, e.Content, st)
			if c.store.SetEmbedding(tier, e.ID, vec) {
				updated++
			}
		}
	}
	return updated
}

func (c *Cascade) embed(ctx context.Context, text string, st Settings) []float64 {
	if c.embedder == nil || !st.LongTermStorage || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		c.logger.Warn("embedding failed, entry stored without vector", "err", err)
		return nil
	}
	return vec
}

func (c *Cascade) longSummaries(conversationID string) []domain.MemoryEntry {
	var out []domain.MemoryEntry
	for _, e := range c.store.List(TierLong, conversationID) {
		if e.Kind == domain.KindLongSummary {
			out = append(out, e)
		}
	}
	return out
}

func (c *Cascade) report(res PassResult) {
	if c.onPass != nil {
		c.onPass(res)
	}
}

// transcriptLine renders a short-term entry for the summarizer.
func transcriptLine(e domain.MemoryEntry) string {
	label := fmt.Sprintf("User (%s)", e.AuthorName)
	if e.Role == domain.RoleAssistant {
		label = fmt.Sprintf("Assistant (%s)", e.AuthorName)
	}
	return label + " says: " + e.Content
}

func entryIDs(entries []domain.MemoryEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func idSet(ids []string) func(domain.MemoryEntry) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(e domain.MemoryEntry) bool {
		_, ok := set[e.ID]
		return ok
	}
}
