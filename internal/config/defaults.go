package config

import (
	"autopilot/internal/agent"
	"autopilot/internal/memory"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Enabled:                true,
			SystemPrompt:           agent.DefaultSystemPrompt,
			LLMModel:               "gpt-3.5-turbo",
			ReplyTemperature:       0.7,
			ReplyTopP:              0.8,
			ImportantMemoryEnabled: true,
			ImportantMemoryLimit:   5,
			DefaultProvider:        "openai",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:        true,
				APIBase:        "https://api.openai.com/v1",
				DefaultModel:   "gpt-3.5-turbo",
				EmbeddingModel: "text-embedding-3-small",
			},
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				UserID: "console",
			},
		},
		Respond: RespondConfig{
			Mode:                     "human",
			Chance:                   0.5,
			UseAIIntrigueCheck:       true,
			UseIntriguingCheck:       true,
			TriggerWords:             "help, question, idea",
			IntrigueSystemPrompt:     agent.DefaultIntriguePrompt,
			IntrigueAIModel:          "gpt-4o-mini",
			SessionIdleMs:            120000,
			DedupeSeconds:            10,
			ResponseCooldownMs:       3000,
			GlobalResponseCooldownMs: 3000,
			AlreadyAnsweredCheck:     true,
			AlreadyAnsweredModel:     "gpt-4o-mini",
			FloodBurst:               5,
			FloodPerMinute:           20,
		},
		Delivery: DeliveryConfig{
			WPM:                   100,
			WPMVariance:           5,
			EnableTypingIndicator: true,
			WatermarkText:         agent.DefaultWatermarkText,
		},
		Memory: MemoryConfig{
			DBPath:              "~/.autopilot/autopilot.db",
			ShortTermLimit:      20,
			ShortTermRetention:  5,
			MediumTriggerCount:  10,
			LongTriggerCount:    5,
			LongTermLimit:       -1,
			MaxSplitChars:       1000,
			MaxSplitWords:       175,
			UseSummaries:        true,
			LongTermStorage:     true,
			SummaryModel:        "gpt-4o-mini",
			SummarySystemPrompt: memory.DefaultSummaryPrompt,
			OtherTemperature:    0.3,
			OtherTopP:           0.33,
			BackfillSchedule:    "@every 5m",
		},
		Proactive: ProactiveConfig{
			WaitMinMs:       30 * 60 * 1000,
			WaitMaxMs:       2 * 60 * 60 * 1000,
			ActiveTimeStart: "07:00",
			ActiveTimeEnd:   "17:00",
			Schedule:        "@every 1m",
		},
		Search: SearchConfig{
			Provider:        "perplexity",
			PerplexityModel: "sonar",
			PerplexityBase:  "https://api.perplexity.ai",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Template is the config written by "autopilot init". Secrets are read from
// the environment when the file is loaded.
func Template() *Config {
	cfg := Defaults()
	openai := cfg.Providers["openai"]
	openai.APIKey = "${OPENAI_API_KEY:-}"
	cfg.Providers["openai"] = openai
	cfg.Channels.Discord.Token = "${DISCORD_TOKEN:-}"
	cfg.Channels.Telegram.Token = "${TELEGRAM_TOKEN:-}"
	cfg.Search.PerplexityToken = "${PERPLEXITY_API_KEY:-}"
	return cfg
}
