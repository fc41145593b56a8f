package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Deduper remembers recently handled message keys for a sliding window.
type Deduper struct {
	mu     sync.Mutex
	cache  *ristretto.Cache
	window func() time.Duration
}

// NewDeduper creates a Deduper whose window is read on every call.
func NewDeduper(window func() time.Duration) (*Deduper, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}
	return &Deduper{cache: cache, window: window}, nil
}

// DedupeKey builds the conversation~author~content key.
func DedupeKey(conversationID, authorID, content string) string {
	return conversationID + "~" + authorID + "~" + content
}

// Seen reports whether key was marked within the window.
func (d *Deduper) Seen(key string) bool {
	if d.window() <= 0 {
		return false
	}
	_, ok := d.cache.Get(key)
	return ok
}

// Reserve marks key and reports whether it was free. Concurrent callers
// with the same key see exactly one success within the window.
func (d *Deduper) Reserve(key string) bool {
	if d.window() <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cache.Get(key); ok {
		return false
	}
	d.Mark(key)
	return true
}

// Release forgets key so the same message can be handled again.
func (d *Deduper) Release(key string) {
	d.cache.Del(key)
	d.cache.Wait()
}

// Mark records key as handled now.
func (d *Deduper) Mark(key string) {
	ttl := d.window()
	if ttl <= 0 {
		return
	}
	d.cache.SetWithTTL(key, time.Now(), 1, ttl)
	d.cache.Wait()
}

// Close releases the cache goroutines.
func (d *Deduper) Close() {
	d.cache.Close()
}
