package memory

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"autopilot/internal/domain"

	"github.com/google/uuid"
)

// Tier names one of the memory containers owned by Store.
type Tier string

const (
	TierShort       Tier = "short"
	TierMedium      Tier = "medium"
	TierLong        Tier = "long"
	TierGlobal      Tier = "global"
	TierPersonality Tier = "personality"
	TierImportant   Tier = "important"
)

// Tiers lists every container in display order.
var Tiers = []Tier{TierShort, TierMedium, TierLong, TierGlobal, TierPersonality, TierImportant}

const defaultImportantLimit = 10

// Store owns every memory tier. All mutation goes through its methods so
// promotion between tiers can be done under a single lock.
type Store struct {
	mu             sync.RWMutex
	tiers          map[Tier][]domain.MemoryEntry
	seq            uint64
	importantLimit int
	onShortAppend  func(conversationID string, count int)
	now            func() time.Time
	logger         *slog.Logger
}

// StoreConfig configures a Store.
type StoreConfig struct {
	ImportantLimit int
	Now            func() time.Time // defaults to time.Now
	Logger         *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.ImportantLimit <= 0 {
		cfg.ImportantLimit = defaultImportantLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Store{
		tiers:          make(map[Tier][]domain.MemoryEntry, len(Tiers)),
		importantLimit: cfg.ImportantLimit,
		now:            cfg.Now,
		logger:         cfg.Logger,
	}
	return s
}

// OnShortAppend registers the hook run after every short-term append, outside
// the store lock. The cascade uses it to decide whether to summarize.
func (s *Store) OnShortAppend(fn func(conversationID string, count int)) {
	s.mu.Lock()
	s.onShortAppend = fn
	s.mu.Unlock()
}

// SetImportantLimit changes the FIFO bound of the important tier. Existing
// overflow is trimmed on the next append.
func (s *Store) SetImportantLimit(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.importantLimit = n
	s.mu.Unlock()
}

// Append adds an entry to a tier and returns it with ID, timestamp and
// sequence filled in.
func (s *Store) Append(tier Tier, e domain.MemoryEntry) domain.MemoryEntry {
	s.mu.Lock()
	e = s.stamp(e)
	if tier == TierImportant {
		for len(s.tiers[tier]) >= s.importantLimit {
			s.tiers[tier] = s.tiers[tier][1:]
		}
	}
	s.tiers[tier] = append(s.tiers[tier], e)
	var (
		hook  func(string, int)
		count int
	)
	if tier == TierShort {
		hook = s.onShortAppend
		count = s.countLocked(tier, e.ConversationID)
	}
	s.mu.Unlock()

	if hook != nil {
		hook(e.ConversationID, count)
	}
	return e
}

func (s *Store) stamp(e domain.MemoryEntry) domain.MemoryEntry {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.seq++
	e.Seq = s.seq
	return e
}

// List returns the entries of a tier in timestamp order. An empty
// conversationID lists every conversation.
func (s *Store) List(tier Tier, conversationID string) []domain.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(tier, conversationID)
}

func (s *Store) listLocked(tier Tier, conversationID string) []domain.MemoryEntry {
	out := make([]domain.MemoryEntry, 0, len(s.tiers[tier]))
	for _, e := range s.tiers[tier] {
		if conversationID == "" || e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// Count returns the number of entries for a conversation in a tier.
func (s *Store) Count(tier Tier, conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(tier, conversationID)
}

func (s *Store) countLocked(tier Tier, conversationID string) int {
	if conversationID == "" {
		return len(s.tiers[tier])
	}
	n := 0
	for _, e := range s.tiers[tier] {
		if e.ConversationID == conversationID {
			n++
		}
	}
	return n
}

// Remove deletes every entry in tier matching pred and returns how many were
// removed.
func (s *Store) Remove(tier Tier, pred func(domain.MemoryEntry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(tier, pred)
}

func (s *Store) removeLocked(tier Tier, pred func(domain.MemoryEntry) bool) int {
	kept := s.tiers[tier][:0]
	removed := 0
	for _, e := range s.tiers[tier] {
		if pred(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Zero the tail so dropped entries can be collected.
	for i := len(kept); i < len(s.tiers[tier]); i++ {
		s.tiers[tier][i] = domain.MemoryEntry{}
	}
	s.tiers[tier] = kept
	return removed
}

// EvictOverLimit removes the oldest entries of a conversation until at most
// limit remain. A negative limit means unbounded. The global tier is never
// evicted.
func (s *Store) EvictOverLimit(tier Tier, conversationID string, limit int) int {
	if limit < 0 || tier == TierGlobal {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.listLocked(tier, conversationID)
	if len(entries) <= limit {
		return 0
	}
	drop := make(map[string]struct{}, len(entries)-limit)
	for _, e := range entries[:len(entries)-limit] {
		drop[e.ID] = struct{}{}
	}
	return s.removeLocked(tier, func(e domain.MemoryEntry) bool {
		if conversationID != "" && e.ConversationID != conversationID {
			return false
		}
		_, ok := drop[e.ID]
		return ok
	})
}

// SetEmbedding attaches a vector to an entry that has none. It reports
// whether the entry was updated; an existing embedding is never replaced.
func (s *Store) SetEmbedding(tier Tier, id string, vec []float64) bool {
	if len(vec) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tiers[tier] {
		e := &s.tiers[tier][i]
		if e.ID != id {
			continue
		}
		if e.HasEmbedding() {
			return false
		}
		e.Embedding = append([]float64(nil), vec...)
		return true
	}
	return false
}

// Promote removes the given source entries and appends the destination
// entries under one lock, so readers never observe a half-finished
// transition. IDs not present in from are ignored.
func (s *Store) Promote(from Tier, removeIDs []string, to Tier, add []domain.MemoryEntry) []domain.MemoryEntry {
	drop := make(map[string]struct{}, len(removeIDs))
	for _, id := range removeIDs {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(from, func(e domain.MemoryEntry) bool {
		_, ok := drop[e.ID]
		return ok
	})
	stamped := make([]domain.MemoryEntry, 0, len(add))
	for _, e := range add {
		e = s.stamp(e)
		s.tiers[to] = append(s.tiers[to], e)
		stamped = append(stamped, e)
	}
	return stamped
}

// Clear empties a tier for one conversation, or the whole tier when
// conversationID is empty.
func (s *Store) Clear(tier Tier, conversationID string) int {
	return s.Remove(tier, func(e domain.MemoryEntry) bool {
		return conversationID == "" || e.ConversationID == conversationID
	})
}

// Stats returns the entry count of every tier.
func (s *Store) Stats() map[Tier]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Tier]int, len(Tiers))
	for _, t := range Tiers {
		out[t] = len(s.tiers[t])
	}
	return out
}

// NewID returns a fresh entry or group identifier.
func NewID() string {
	return uuid.NewString()
}

func sortEntries(entries []domain.MemoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})
}
