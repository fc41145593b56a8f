package agent

import (
	"testing"
	"time"
)

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(5, 60.0, clock.Now)

	for i := 0; i < 5; i++ {
		if !rl.Allow() {
			t.Fatalf("burst token %d refused", i)
		}
	}
	if rl.Allow() {
		t.Fatal("expected the sixth token to be refused")
	}
}

func TestRateLimiter_TokenRefill(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(1, 60.0, clock.Now) // one token per second

	if !rl.Allow() {
		t.Fatal("first token refused")
	}
	clock.Advance(500 * time.Millisecond)
	if rl.Allow() {
		t.Fatal("expected refusal before a full token refilled")
	}
	clock.Advance(600 * time.Millisecond)
	if !rl.Allow() {
		t.Fatal("expected a refilled token")
	}
}

func TestRateLimiter_RefillCapsAtBurst(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(2, 600.0, clock.Now)
	rl.Allow()
	rl.Allow()
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("expected refill capped at burst 2, got %d", allowed)
	}
}

func TestRateLimiter_DefaultValues(t *testing.T) {
	rl := NewRateLimiter(0, 0, nil)
	if rl.max != 5 {
		t.Fatalf("expected default max=5, got %v", rl.max)
	}
	if rl.rate == 0 {
		t.Fatal("rate should not be zero")
	}
}

func TestFloodGuard_PerAuthor(t *testing.T) {
	clock := newFakeClock()
	g := NewFloodGuard(clock.Now)

	if !g.Allow("a", 1, 1) {
		t.Fatal("first message from a refused")
	}
	if g.Allow("a", 1, 1) {
		t.Fatal("second message from a should be refused")
	}
	if !g.Allow("b", 1, 1) {
		t.Fatal("b has its own bucket")
	}
	if !g.Allow("a", 0, 0) {
		t.Fatal("zero burst disables the guard")
	}
}
