package agent

import (
	"testing"
	"time"
)

func TestCooldowns(t *testing.T) {
	clock := newFakeClock()
	c := NewCooldowns(clock.Now)

	if !c.Ready("c1", 3*time.Second, 3*time.Second) {
		t.Fatal("fresh cooldowns should be ready")
	}
	c.Stamp("c1")
	if c.Ready("c1", 3*time.Second, 0) {
		t.Fatal("per-conversation cooldown not applied")
	}
	if c.Ready("c2", 0, 3*time.Second) {
		t.Fatal("global cooldown not applied to other conversations")
	}
	if !c.Ready("c2", 3*time.Second, 0) {
		t.Fatal("per-conversation cooldown leaked to c2")
	}

	clock.Advance(3 * time.Second)
	if !c.Ready("c1", 3*time.Second, 3*time.Second) {
		t.Fatal("cooldown should have elapsed")
	}
}
