package memory

import (
	"context"
	"fmt"
	"sync"

	"autopilot/internal/domain"
)

const snapshotVersion = 1

// Snapshot is the persisted form of the long-lived tiers. Short-term memory
// is process-local and never saved.
type Snapshot struct {
	Version     int                  `json:"version"`
	Medium      []domain.MemoryEntry `json:"medium_term"`
	Long        []domain.MemoryEntry `json:"long_term"`
	Global      []domain.MemoryEntry `json:"global"`
	Important   []domain.MemoryEntry `json:"important"`
	Personality []domain.MemoryEntry `json:"personality"`
}

// Snapshot copies the persisted tiers.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Version:     snapshotVersion,
		Medium:      s.listLocked(TierMedium, ""),
		Long:        s.listLocked(TierLong, ""),
		Global:      s.listLocked(TierGlobal, ""),
		Important:   s.listLocked(TierImportant, ""),
		Personality: s.listLocked(TierPersonality, ""),
	}
}

// Restore replaces the persisted tiers with the snapshot contents. Short-term
// memory is left alone.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers[TierMedium] = append([]domain.MemoryEntry(nil), snap.Medium...)
	s.tiers[TierLong] = append([]domain.MemoryEntry(nil), snap.Long...)
	s.tiers[TierGlobal] = append([]domain.MemoryEntry(nil), snap.Global...)
	s.tiers[TierImportant] = append([]domain.MemoryEntry(nil), snap.Important...)
	s.tiers[TierPersonality] = append([]domain.MemoryEntry(nil), snap.Personality...)

	for _, t := range Tiers {
		for i := range s.tiers[t] {
			e := &s.tiers[t][i]
			if e.ID == "" {
				e.ID = NewID()
			}
			if e.Seq > s.seq {
				s.seq = e.Seq
			}
		}
	}
}

// Persister saves and loads store snapshots under a scoped key.
type Persister struct {
	mu       sync.Mutex // orders snapshot and write across saves
	store    *Store
	backend  domain.SnapshotStore
	key      string
	fallback []string
}

// Snapshot keys. LegacyMemoriesKey is read when the current key is absent.
const (
	MemoriesKey       = "memories"
	LegacyMemoriesKey = "memories_overhaul"
	SettingsKey       = "settings"
)

// ScopedKey prefixes key with the operator id unless the scope is shared.
func ScopedKey(ownerID string, shared bool, key string) string {
	if shared || ownerID == "" {
		return key
	}
	return ownerID + "_" + key
}

// NewPersister binds a store to a snapshot backend.
func NewPersister(store *Store, backend domain.SnapshotStore, ownerID string, shared bool) *Persister {
	return &Persister{
		store:    store,
		backend:  backend,
		key:      ScopedKey(ownerID, shared, MemoriesKey),
		fallback: []string{ScopedKey(ownerID, shared, LegacyMemoriesKey)},
	}
}

// Load restores the store from the backend. A missing snapshot is not an
// error. A corrupt one is reported so callers can start empty.
func (p *Persister) Load(ctx context.Context) (bool, error) {
	for _, key := range append([]string{p.key}, p.fallback...) {
		var snap Snapshot
		ok, err := p.backend.Load(ctx, key, &snap)
		if err != nil {
			return false, fmt.Errorf("load %s: %w", key, err)
		}
		if ok {
			p.store.Restore(snap)
			return true, nil
		}
	}
	return false, nil
}

// Save writes the current snapshot. Concurrent saves are serialized so an
// older snapshot never overwrites a newer one.
func (p *Persister) Save(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.backend.Save(ctx, p.key, p.store.Snapshot()); err != nil {
		return fmt.Errorf("save %s: %w", p.key, err)
	}
	return nil
}
