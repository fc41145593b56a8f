package memory

import (
	"testing"
	"time"

	"autopilot/internal/domain"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestStore_AppendStampsEntries(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	a := s.Append(TierShort, domain.MemoryEntry{ConversationID: "c", Content: "one"})
	b := s.Append(TierShort, domain.MemoryEntry{ConversationID: "c", Content: "two"})

	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if b.Seq <= a.Seq {
		t.Errorf("expected increasing seq, got %d then %d", a.Seq, b.Seq)
	}
}

func TestStore_ListOrdersByTimestampThenSeq(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	ts := time.Unix(100, 0)
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "c", Content: "late", Timestamp: ts.Add(time.Minute)})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "c", Content: "tie-1", Timestamp: ts})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "c", Content: "tie-2", Timestamp: ts})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "other", Content: "x", Timestamp: ts})

	got := s.List(TierShort, "c")
	want := []string{"tie-1", "tie-2", "late"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("entry %d: got %q, want %q", i, got[i].Content, w)
		}
	}
	if n := len(s.List(TierShort, "")); n != 4 {
		t.Errorf("expected 4 entries across conversations, got %d", n)
	}
}

func TestStore_EvictOverLimitRemovesOldest(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	for _, sec := range []int64{3, 1, 2} {
		s.Append(TierLong, domain.MemoryEntry{
			ConversationID: "C",
			Kind:           domain.KindLongSummary,
			Timestamp:      time.Unix(sec, 0),
		})
	}
	s.Append(TierLong, domain.MemoryEntry{ConversationID: "D", Timestamp: time.Unix(0, 0)})

	if removed := s.EvictOverLimit(TierLong, "C", 2); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	left := s.List(TierLong, "C")
	if len(left) != 2 {
		t.Fatalf("expected exactly 2 entries left, got %d", len(left))
	}
	if left[0].Timestamp.Unix() != 2 || left[1].Timestamp.Unix() != 3 {
		t.Errorf("expected timestamps 2 and 3 to remain, got %d and %d",
			left[0].Timestamp.Unix(), left[1].Timestamp.Unix())
	}
	if s.Count(TierLong, "D") != 1 {
		t.Error("eviction must not touch other conversations")
	}
}

func TestStore_EvictOverLimitUnboundedAndGlobal(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	for i := 0; i < 5; i++ {
		s.Append(TierLong, domain.MemoryEntry{ConversationID: "C"})
		s.Append(TierGlobal, domain.MemoryEntry{Content: "fact"})
	}
	if n := s.EvictOverLimit(TierLong, "C", -1); n != 0 {
		t.Errorf("limit -1 must not evict, removed %d", n)
	}
	if n := s.EvictOverLimit(TierGlobal, "", 1); n != 0 {
		t.Errorf("global tier must never be evicted, removed %d", n)
	}
}

func TestStore_ImportantIsFIFOBounded(t *testing.T) {
	s := NewStore(StoreConfig{ImportantLimit: 3, Now: fixedClock(time.Unix(0, 0)), Logger: testLogger()})
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		s.Append(TierImportant, domain.MemoryEntry{Content: c})
	}
	got := s.List(TierImportant, "")
	if len(got) != 3 {
		t.Fatalf("expected 3 important entries, got %d", len(got))
	}
	if got[0].Content != "c" || got[2].Content != "e" {
		t.Errorf("expected oldest evicted first, got %q..%q", got[0].Content, got[2].Content)
	}
}

func TestStore_SetEmbeddingOnce(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	e := s.Append(TierLong, domain.MemoryEntry{Content: "x"})

	if !s.SetEmbedding(TierLong, e.ID, []float64{1, 2}) {
		t.Fatal("expected first embedding to be set")
	}
	if s.SetEmbedding(TierLong, e.ID, []float64{9, 9}) {
		t.Error("expected second embedding to be refused")
	}
	got := s.List(TierLong, "")[0].Embedding
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("embedding mutated: %v", got)
	}
	if s.SetEmbedding(TierLong, "missing", []float64{1}) {
		t.Error("expected unknown id to be ignored")
	}
}

func TestStore_PromoteMovesEntries(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	a := s.Append(TierShort, domain.MemoryEntry{ConversationID: "c", Content: "a"})
	b := s.Append(TierShort, domain.MemoryEntry{ConversationID: "c", Content: "b"})

	added := s.Promote(TierShort, []string{a.ID}, TierMedium, []domain.MemoryEntry{{ConversationID: "c", Content: "sum"}})
	if len(added) != 1 || added[0].ID == "" {
		t.Fatalf("expected one stamped entry, got %+v", added)
	}
	short := s.List(TierShort, "c")
	if len(short) != 1 || short[0].ID != b.ID {
		t.Errorf("expected only b to remain in short-term, got %+v", short)
	}
	if s.Count(TierMedium, "c") != 1 {
		t.Error("expected one medium entry")
	}
}

func TestStore_OnShortAppendHook(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	var counts []int
	s.OnShortAppend(func(conversationID string, count int) {
		if conversationID == "c" {
			counts = append(counts, count)
		}
	})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "c"})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "other"})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "c"})
	s.Append(TierMedium, domain.MemoryEntry{ConversationID: "c"})

	if len(counts) != 2 || counts[0] != 1 || counts[1] != 2 {
		t.Errorf("unexpected hook counts: %v", counts)
	}
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	s.Append(TierShort, domain.MemoryEntry{ConversationID: "c", Content: "not persisted"})
	s.Append(TierLong, domain.MemoryEntry{ConversationID: "c", Content: "l", Embedding: []float64{0.1, 0.2}})
	s.Append(TierGlobal, domain.MemoryEntry{Content: "g"})
	snap := s.Snapshot()

	restored := NewStore(StoreConfig{Logger: testLogger()})
	restored.Restore(snap)
	if restored.Count(TierShort, "") != 0 {
		t.Error("short-term memory must not be part of a snapshot")
	}
	if restored.Count(TierLong, "c") != 1 || restored.Count(TierGlobal, "") != 1 {
		t.Errorf("unexpected restored stats: %v", restored.Stats())
	}
	next := restored.Append(TierLong, domain.MemoryEntry{})
	if next.Seq <= snap.Long[0].Seq {
		t.Errorf("expected seq to continue after restore, got %d", next.Seq)
	}
}
