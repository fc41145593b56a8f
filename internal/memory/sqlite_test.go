package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"autopilot/internal/domain"
)

func testSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "test.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunMigrations_FreshDB(t *testing.T) {
	s := testSQLiteStore(t)

	version, err := GetSchemaVersion(s.DB())
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
	// Run twice, should not fail
	if err := RunMigrations(s.DB(), testLogger()); err != nil {
		t.Fatalf("second migration (idempotent) failed: %v", err)
	}
}

func TestNewSQLiteStore_Pragmas(t *testing.T) {
	s := testSQLiteStore(t)

	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var timeout int
	if err := s.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	s := testSQLiteStore(t)
	var snap Snapshot
	ok, err := s.Load(context.Background(), "nope", &snap)
	if err != nil || ok {
		t.Errorf("expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestSQLiteStore_EmbeddingRoundTrip(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()
	vec := []float64{0.1, -0.2, 1.0 / 3.0, 1e-12, 123456.789}

	store := NewStore(StoreConfig{Logger: testLogger()})
	store.Append(TierLong, domain.MemoryEntry{
		ConversationID: "C",
		Kind:           domain.KindLongSummary,
		Content:        "summary",
		Embedding:      vec,
		Timestamp:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})

	if err := NewPersister(store, s, "owner", false).Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewStore(StoreConfig{Logger: testLogger()})
	ok, err := NewPersister(reloaded, s, "owner", false).Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	got := reloaded.List(TierLong, "C")
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if len(got[0].Embedding) != len(vec) {
		t.Fatalf("embedding length changed: %d", len(got[0].Embedding))
	}
	for i := range vec {
		if got[0].Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got[0].Embedding[i], vec[i])
		}
	}
	if !got[0].Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp changed: %v", got[0].Timestamp)
	}
}

func TestSQLiteStore_SaveOverwrites(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, "k", map[string]int{"v": 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "k", map[string]int{"v": 2}); err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if ok, err := s.Load(ctx, "k", &got); err != nil || !ok || got["v"] != 2 {
		t.Errorf("expected latest value, got %v (%v, %v)", got, ok, err)
	}
	keys, err := s.Keys(ctx)
	if err != nil || len(keys) != 1 {
		t.Errorf("expected one key, got %v (%v)", keys, err)
	}
}

func TestSQLiteStore_CorruptSnapshot(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()
	if _, err := s.DB().Exec(`INSERT INTO snapshots (key, value) VALUES ('memories', '{not json')`); err != nil {
		t.Fatal(err)
	}
	store := NewStore(StoreConfig{Logger: testLogger()})
	if _, err := NewPersister(store, s, "", true).Load(ctx); err == nil {
		t.Error("expected decode error for corrupt snapshot")
	}
	if n := store.Count(TierLong, ""); n != 0 {
		t.Errorf("expected empty store after failed load, got %d", n)
	}
}

func TestSQLiteStore_Leases(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "owner", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := s.AcquireLease(ctx, "owner", "b", time.Minute); ok {
		t.Error("expected second holder to be refused while lease is fresh")
	}
	if ok, _ := s.AcquireLease(ctx, "owner", "a", time.Minute); !ok {
		t.Error("expected holder to re-acquire its own lease")
	}
	if err := s.ReleaseLease(ctx, "owner", "a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.AcquireLease(ctx, "owner", "b", time.Minute); !ok {
		t.Error("expected lease to be free after release")
	}
	if ok, _ := s.AcquireLease(ctx, "owner", "c", 0); !ok {
		t.Error("expected stale lease to be taken over")
	}
}

func TestPersister_LegacyKeyFallback(t *testing.T) {
	ctx := context.Background()
	backend := newMemorySnapshots()
	legacy := Snapshot{Global: []domain.MemoryEntry{{ID: "g1", Content: "fact"}}}
	if err := backend.Save(ctx, ScopedKey("owner", false, LegacyMemoriesKey), legacy); err != nil {
		t.Fatal(err)
	}

	store := NewStore(StoreConfig{Logger: testLogger()})
	ok, err := NewPersister(store, backend, "owner", false).Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if got := store.List(TierGlobal, ""); len(got) != 1 || got[0].Content != "fact" {
		t.Errorf("expected legacy global entry, got %+v", got)
	}
}

// stallingSnapshots blocks the first Save until release is closed.
type stallingSnapshots struct {
	*memorySnapshots
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingSnapshots) Save(ctx context.Context, key string, v any) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.memorySnapshots.Save(ctx, key, v)
}

func TestPersister_ConcurrentSavesKeepNewest(t *testing.T) {
	ctx := context.Background()
	backend := &stallingSnapshots{
		memorySnapshots: newMemorySnapshots(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	store := NewStore(StoreConfig{Logger: testLogger()})
	store.Append(TierGlobal, domain.MemoryEntry{Content: "older"})
	p := NewPersister(store, backend, "", true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Save(ctx)
	}()
	<-backend.entered

	store.Append(TierGlobal, domain.MemoryEntry{Content: "newer"})
	go func() {
		defer wg.Done()
		p.Save(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	reloaded := NewStore(StoreConfig{Logger: testLogger()})
	if _, err := NewPersister(reloaded, backend, "", true).Load(ctx); err != nil {
		t.Fatal(err)
	}
	if n := reloaded.Count(TierGlobal, ""); n != 2 {
		t.Fatalf("expected the newest snapshot with 2 entries, got %d", n)
	}
}

func TestScopedKey(t *testing.T) {
	if got := ScopedKey("42", false, "memories"); got != "42_memories" {
		t.Errorf("got %q", got)
	}
	if got := ScopedKey("42", true, "memories"); got != "memories" {
		t.Errorf("got %q", got)
	}
	if got := ScopedKey("", false, "settings"); got != "settings" {
		t.Errorf("got %q", got)
	}
}
