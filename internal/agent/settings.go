package agent

import (
	"slices"
	"time"

	"autopilot/internal/domain"
)

// Mode selects how the decision engine treats a new message.
type Mode string

const (
	ModeAlways    Mode = "always"
	ModeMention   Mode = "mention"
	ModeRandom    Mode = "random"
	ModeAttentive Mode = "attentive"
	ModeHuman     Mode = "human"
)

// Settings are the runtime knobs of the engine. They are read through a
// getter on every message so a settings change applies immediately.
type Settings struct {
	Enabled                bool
	OwnerID                string
	Whitelist              []string
	ProactiveConversations []string

	RespondMode          Mode
	RespondChance        float64
	UseAIIntrigue        bool
	UseHeuristic         bool
	TriggerWords         string
	IntriguePrompt       string
	IntrigueModel        string
	SessionIdle          time.Duration
	SessionGating        bool
	DedupeWindow         time.Duration
	ConvCooldown         time.Duration
	GlobalCooldown       time.Duration
	AlreadyAnswered      bool
	AlreadyAnsweredModel string

	SystemPrompt     string
	LLMModel         string
	Reply            domain.Sampling
	ImportantEnabled bool

	WPM             int
	WPMVariance     int
	Chunking        bool
	TypingIndicator bool
	Watermark       bool
	WatermarkText   string

	ProactiveEnabled bool
	ProactiveWaitMin time.Duration
	ProactiveWaitMax time.Duration
	ProactiveStart   string // "HH:MM"
	ProactiveEnd     string

	FloodBurst     int
	FloodPerMinute float64
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:              true,
		RespondMode:          ModeHuman,
		RespondChance:        0.5,
		UseAIIntrigue:        true,
		UseHeuristic:         true,
		TriggerWords:         "help, question, idea",
		IntriguePrompt:       DefaultIntriguePrompt,
		IntrigueModel:        "gpt-4o-mini",
		SessionIdle:          2 * time.Minute,
		DedupeWindow:         10 * time.Second,
		ConvCooldown:         3 * time.Second,
		GlobalCooldown:       3 * time.Second,
		AlreadyAnswered:      true,
		AlreadyAnsweredModel: "gpt-4o-mini",
		SystemPrompt:         DefaultSystemPrompt,
		LLMModel:             "gpt-3.5-turbo",
		Reply:                domain.Sampling{Temperature: 0.7, TopP: 0.8},
		ImportantEnabled:     true,
		WPM:                  100,
		WPMVariance:          5,
		TypingIndicator:      true,
		WatermarkText:        DefaultWatermarkText,
		ProactiveWaitMin:     30 * time.Minute,
		ProactiveWaitMax:     2 * time.Hour,
		ProactiveStart:       "07:00",
		ProactiveEnd:         "17:00",
		FloodBurst:           5,
		FloodPerMinute:       20,
	}
}

// StaticSettings returns a getter that always yields s.
func StaticSettings(s Settings) func() Settings {
	return func() Settings { return s }
}

// Whitelisted reports whether the engine may act in a conversation.
func (s Settings) Whitelisted(conversationID string) bool {
	return slices.Contains(s.Whitelist, conversationID)
}
