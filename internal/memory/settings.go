package memory

import "autopilot/internal/domain"

// Settings are the tier thresholds and model parameters the cascade and
// retriever read on every pass, so runtime changes apply without a restart.
type Settings struct {
	ShortTermLimit     int
	ShortTermRetention int
	MediumTriggerCount int
	LongTriggerCount   int
	LongTermLimit      int // -1 = unbounded
	MaxSplitChars      int
	MaxSplitWords      int
	UseSummaries       bool
	LongTermStorage    bool
	CrossConversation  bool
	SummaryModel       string
	SummaryPrompt      string
	Sampling           domain.Sampling
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		ShortTermLimit:     20,
		ShortTermRetention: 5,
		MediumTriggerCount: 10,
		LongTriggerCount:   5,
		LongTermLimit:      -1,
		MaxSplitChars:      1000,
		MaxSplitWords:      175,
		UseSummaries:       true,
		LongTermStorage:    true,
		SummaryModel:       "gpt-4o-mini",
		SummaryPrompt:      DefaultSummaryPrompt,
		Sampling:           domain.Sampling{Temperature: 0.3, TopP: 0.33},
	}
}

// StaticSettings returns a getter that always yields s.
func StaticSettings(s Settings) func() Settings {
	return func() Settings { return s }
}
