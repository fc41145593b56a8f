package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"autopilot/internal/agent"
	"autopilot/internal/domain"
	"autopilot/internal/memory"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// AgentSettings maps the config onto the engine's runtime settings.
func (c *Config) AgentSettings() agent.Settings {
	proactive := make([]string, len(c.Proactive.Channels))
	copy(proactive, c.Proactive.Channels)
	return agent.Settings{
		Enabled:                c.General.Enabled,
		OwnerID:                c.General.OwnerID,
		Whitelist:              append([]string(nil), c.General.Whitelist...),
		ProactiveConversations: proactive,

		RespondMode:          agent.Mode(strings.ToLower(c.Respond.Mode)),
		RespondChance:        c.Respond.Chance,
		UseAIIntrigue:        c.Respond.UseAIIntrigueCheck,
		UseHeuristic:         c.Respond.UseIntriguingCheck,
		TriggerWords:         c.Respond.TriggerWords,
		IntriguePrompt:       c.Respond.IntrigueSystemPrompt,
		IntrigueModel:        c.Respond.IntrigueAIModel,
		SessionIdle:          ms(c.Respond.SessionIdleMs),
		SessionGating:        c.Respond.SessionGating,
		DedupeWindow:         time.Duration(c.Respond.DedupeSeconds) * time.Second,
		ConvCooldown:         ms(c.Respond.ResponseCooldownMs),
		GlobalCooldown:       ms(c.Respond.GlobalResponseCooldownMs),
		AlreadyAnswered:      c.Respond.AlreadyAnsweredCheck,
		AlreadyAnsweredModel: c.Respond.AlreadyAnsweredModel,

		SystemPrompt:     c.General.SystemPrompt,
		LLMModel:         c.General.LLMModel,
		Reply:            domain.Sampling{Temperature: c.General.ReplyTemperature, TopP: c.General.ReplyTopP},
		ImportantEnabled: c.General.ImportantMemoryEnabled,

		WPM:             c.Delivery.WPM,
		WPMVariance:     c.Delivery.WPMVariance,
		Chunking:        c.Delivery.EnableChunking,
		TypingIndicator: c.Delivery.EnableTypingIndicator,
		Watermark:       c.Delivery.WatermarkEnabled,
		WatermarkText:   c.Delivery.WatermarkText,

		ProactiveEnabled: len(proactive) > 0,
		ProactiveWaitMin: ms(c.Proactive.WaitMinMs),
		ProactiveWaitMax: ms(c.Proactive.WaitMaxMs),
		ProactiveStart:   c.Proactive.ActiveTimeStart,
		ProactiveEnd:     c.Proactive.ActiveTimeEnd,

		FloodBurst:     c.Respond.FloodBurst,
		FloodPerMinute: c.Respond.FloodPerMinute,
	}
}

// MemorySettings maps the config onto the cascade's settings.
func (c *Config) MemorySettings() memory.Settings {
	return memory.Settings{
		ShortTermLimit:     c.Memory.ShortTermLimit,
		ShortTermRetention: c.Memory.ShortTermRetention,
		MediumTriggerCount: c.Memory.MediumTriggerCount,
		LongTriggerCount:   c.Memory.LongTriggerCount,
		LongTermLimit:      c.Memory.LongTermLimit,
		MaxSplitChars:      c.Memory.MaxSplitChars,
		MaxSplitWords:      c.Memory.MaxSplitWords,
		UseSummaries:       c.Memory.UseSummaries,
		LongTermStorage:    c.Memory.LongTermStorage,
		CrossConversation:  c.Memory.DisableChannelInstancing,
		SummaryModel:       c.Memory.SummaryModel,
		SummaryPrompt:      c.Memory.SummarySystemPrompt,
		Sampling:           domain.Sampling{Temperature: c.Memory.OtherTemperature, TopP: c.Memory.OtherTopP},
	}
}

// SettingsKey is the snapshot key of the runtime overrides for this config.
func (c *Config) SettingsKey() string {
	return memory.ScopedKey(c.General.OwnerID, c.Memory.UseGlobalConfig, memory.SettingsKey)
}

// Overrides are runtime settings stored in the snapshot backend as dotted
// paths. They win over the config file.
type Overrides map[string]any

// LoadOverrides reads the stored overrides. A missing snapshot yields an
// empty set.
func LoadOverrides(ctx context.Context, backend domain.SnapshotStore, key string) (Overrides, error) {
	o := Overrides{}
	if _, err := backend.Load(ctx, key, &o); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return o, nil
}

// SaveOverrides writes o under key.
func SaveOverrides(ctx context.Context, backend domain.SnapshotStore, key string, o Overrides) error {
	if err := backend.Save(ctx, key, o); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Apply overlays the overrides onto cfg in path order and validates the
// result. cfg is left untouched on error.
func (o Overrides) Apply(cfg *Config) error {
	paths := make([]string, 0, len(o))
	for p := range o {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	next := Clone(cfg)
	for _, p := range paths {
		if err := SetByPath(next, p, o[p]); err != nil {
			return fmt.Errorf("apply setting %s: %w", p, err)
		}
	}
	if err := Validate(next); err != nil {
		return err
	}
	*cfg = *next
	return nil
}
