package agent

import (
	"sync"
	"time"
)

// Cooldowns tracks the last delivery per conversation and globally.
type Cooldowns struct {
	mu         sync.Mutex
	last       map[string]time.Time
	lastGlobal time.Time
	now        func() time.Time
}

func NewCooldowns(now func() time.Time) *Cooldowns {
	if now == nil {
		now = time.Now
	}
	return &Cooldowns{last: make(map[string]time.Time), now: now}
}

// Ready reports whether both the conversation and the global cooldown have
// elapsed.
func (c *Cooldowns) Ready(conversationID string, perConv, global time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if t, ok := c.last[conversationID]; ok && now.Sub(t) < perConv {
		return false
	}
	if !c.lastGlobal.IsZero() && now.Sub(c.lastGlobal) < global {
		return false
	}
	return true
}

// Stamp records a delivery in conversationID.
func (c *Cooldowns) Stamp(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.last[conversationID] = now
	c.lastGlobal = now
}
