package agent

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
	now      func() time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64, now func() time.Time) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 20
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: now(),
		now:      now,
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// FloodGuard keeps one bucket per author so a single flooding user cannot
// monopolize the reply queue.
type FloodGuard struct {
	mu      sync.Mutex
	buckets map[string]*RateLimiter
	now     func() time.Time
}

func NewFloodGuard(now func() time.Time) *FloodGuard {
	return &FloodGuard{buckets: make(map[string]*RateLimiter), now: now}
}

// Allow reports whether authorID may send another message. A burst of zero
// disables the guard.
func (g *FloodGuard) Allow(authorID string, burst int, perMinute float64) bool {
	if burst <= 0 {
		return true
	}
	g.mu.Lock()
	rl, ok := g.buckets[authorID]
	if !ok {
		rl = NewRateLimiter(burst, perMinute, g.now)
		g.buckets[authorID] = rl
	}
	g.mu.Unlock()
	return rl.Allow()
}
