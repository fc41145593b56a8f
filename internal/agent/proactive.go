package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"autopilot/internal/memory"
)

const clockLayout = "15:04"

// Proactive starts check-ins in quiet conversations. Each conversation gets
// a random idle threshold that is re-rolled after every check-in.
type Proactive struct {
	store    *memory.Store
	settings func() Settings
	trigger  func(ctx context.Context, conversationID string)
	now      func() time.Time
	rand     func() float64
	started  time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	waits map[string]time.Duration
}

// ProactiveConfig configures Proactive.
type ProactiveConfig struct {
	Store    *memory.Store
	Settings func() Settings
	Trigger  func(ctx context.Context, conversationID string)
	Now      func() time.Time
	Rand     func() float64
	Logger   *slog.Logger
}

func NewProactive(cfg ProactiveConfig) *Proactive {
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(DefaultSettings())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Proactive{
		store:    cfg.Store,
		settings: cfg.Settings,
		trigger:  cfg.Trigger,
		now:      cfg.Now,
		rand:     cfg.Rand,
		started:  cfg.Now(),
		logger:   cfg.Logger,
		waits:    make(map[string]time.Duration),
	}
}

// Check runs one scheduling round. It returns the conversations that were
// triggered.
func (p *Proactive) Check(ctx context.Context) []string {
	st := p.settings()
	if !st.Enabled || !st.ProactiveEnabled {
		return nil
	}
	now := p.now()
	if !inWindow(now.Format(clockLayout), st.ProactiveStart, st.ProactiveEnd) {
		return nil
	}

	var fired []string
	for _, conv := range st.ProactiveConversations {
		if !st.Whitelisted(conv) {
			continue
		}
		idle := now.Sub(p.lastActivity(conv))

		p.mu.Lock()
		wait, ok := p.waits[conv]
		if !ok {
			wait = p.roll(st)
			p.waits[conv] = wait
		}
		due := idle >= wait
		if due {
			delete(p.waits, conv)
		}
		p.mu.Unlock()

		if !due {
			continue
		}
		p.logger.Info("proactive check-in", "conversation", conv, "idle", idle.Round(time.Second))
		fired = append(fired, conv)
		if p.trigger != nil {
			p.trigger(ctx, conv)
		}
	}
	return fired
}

// lastActivity is the newest short-term entry of the conversation, or the
// process start when there is none.
func (p *Proactive) lastActivity(conversationID string) time.Time {
	entries := p.store.List(memory.TierShort, conversationID)
	if len(entries) == 0 {
		return p.started
	}
	return entries[len(entries)-1].Timestamp
}

func (p *Proactive) roll(st Settings) time.Duration {
	lo, hi := st.ProactiveWaitMin, st.ProactiveWaitMax
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + time.Duration(p.rand()*float64(hi-lo))
}

// proactiveNote is the ephemeral instruction pushed before a check-in.
func proactiveNote(conversationID string, hasHistory bool) string {
	if !hasHistory {
		return fmt.Sprintf("The current channel is %s. You should do a friendly check-in or conversation starter.", conversationID)
	}
	return "You should do a friendly check-in or conversation starter. Use a proactive, casual tone."
}

// inWindow compares "HH:MM" strings. A window whose end is before its start
// wraps past midnight.
func inWindow(current, start, end string) bool {
	if start == "" || end == "" {
		return true
	}
	if start <= end {
		return current >= start && current <= end
	}
	return current >= start || current <= end
}

// ValidClock reports whether s is a "HH:MM" time of day.
func ValidClock(s string) bool {
	_, err := time.Parse(clockLayout, s)
	return err == nil && len(s) == len(clockLayout)
}
