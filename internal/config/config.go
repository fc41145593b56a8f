package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration for autopilot.
type Config struct {
	General   GeneralConfig             `json:"general" yaml:"general"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Channels  ChannelsConfig            `json:"channels" yaml:"channels"`
	Respond   RespondConfig             `json:"respond" yaml:"respond"`
	Delivery  DeliveryConfig            `json:"delivery" yaml:"delivery"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Proactive ProactiveConfig           `json:"proactive" yaml:"proactive"`
	Search    SearchConfig              `json:"search" yaml:"search"`
	Metrics   MetricsConfig             `json:"metrics" yaml:"metrics"`
	Logging   LoggingConfig             `json:"logging" yaml:"logging"`
}

type GeneralConfig struct {
	Enabled                bool           `json:"autopilotEnabled" yaml:"autopilotEnabled"`
	OwnerID                string         `json:"ownerId" yaml:"ownerId"`
	Whitelist              FlexStringList `json:"whitelist" yaml:"whitelist"`
	SystemPrompt           string         `json:"systemPrompt" yaml:"systemPrompt"`
	LLMModel               string         `json:"llmModel" yaml:"llmModel"`
	ReplyTemperature       float64        `json:"replyTemperature" yaml:"replyTemperature"`
	ReplyTopP              float64        `json:"replyTopP" yaml:"replyTopP"`
	ImportantMemoryEnabled bool           `json:"importantMemoryEnabled" yaml:"importantMemoryEnabled"`
	ImportantMemoryLimit   int            `json:"importantMemoryLimit" yaml:"importantMemoryLimit"`
	DefaultProvider        string         `json:"defaultProvider" yaml:"defaultProvider"`
	FailoverChain          []string       `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"`
	InstanceID             string         `json:"instanceId,omitempty" yaml:"instanceId,omitempty"`
}

type ProviderConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Kind           string `json:"kind,omitempty" yaml:"kind,omitempty"` // "openai" | "claude"; defaults to the entry name
	APIBase        string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel   string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	EmbeddingModel string `json:"embeddingModel,omitempty" yaml:"embeddingModel,omitempty"`
	MaxRetries     int    `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	CLI      CLIConfig      `json:"cli" yaml:"cli"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty"` // optional: restrict to one guild
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
}

type CLIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	UserID  string `json:"userId,omitempty" yaml:"userId,omitempty"`
}

// RespondConfig drives the decision engine.
type RespondConfig struct {
	Mode                     string  `json:"respondMode" yaml:"respondMode"`
	Chance                   float64 `json:"respondChance" yaml:"respondChance"`
	UseAIIntrigueCheck       bool    `json:"useAiIntrigueCheck" yaml:"useAiIntrigueCheck"`
	UseIntriguingCheck       bool    `json:"useIntriguingCheck" yaml:"useIntriguingCheck"`
	TriggerWords             string  `json:"triggerWords" yaml:"triggerWords"`
	IntrigueSystemPrompt     string  `json:"intrigueSystemPrompt" yaml:"intrigueSystemPrompt"`
	IntrigueAIModel          string  `json:"intrigueAiModel" yaml:"intrigueAiModel"`
	SessionIdleMs            int     `json:"sessionIdleMs" yaml:"sessionIdleMs"`
	SessionGating            bool    `json:"sessionGating" yaml:"sessionGating"`
	DedupeSeconds            int     `json:"dedupeSeconds" yaml:"dedupeSeconds"`
	ResponseCooldownMs       int     `json:"responseCooldownMs" yaml:"responseCooldownMs"`
	GlobalResponseCooldownMs int     `json:"globalResponseCooldownMs" yaml:"globalResponseCooldownMs"`
	AlreadyAnsweredCheck     bool    `json:"alreadyAnsweredCheck" yaml:"alreadyAnsweredCheck"`
	AlreadyAnsweredModel     string  `json:"alreadyAnsweredModel" yaml:"alreadyAnsweredModel"`
	FloodBurst               int     `json:"floodBurst" yaml:"floodBurst"`
	FloodPerMinute           float64 `json:"floodPerMinute" yaml:"floodPerMinute"`
}

// DeliveryConfig drives the pacer.
type DeliveryConfig struct {
	WPM                   int    `json:"wpm" yaml:"wpm"`
	WPMVariance           int    `json:"wpmVariance" yaml:"wpmVariance"`
	EnableChunking        bool   `json:"enableChunking" yaml:"enableChunking"`
	EnableTypingIndicator bool   `json:"enableTypingIndicator" yaml:"enableTypingIndicator"`
	WatermarkEnabled      bool   `json:"aiWatermarkEnabled" yaml:"aiWatermarkEnabled"`
	WatermarkText         string `json:"aiWatermarkText" yaml:"aiWatermarkText"`
}

type MemoryConfig struct {
	DBPath                   string  `json:"dbPath" yaml:"dbPath"`
	ShortTermLimit           int     `json:"shortTermMemoryLimit" yaml:"shortTermMemoryLimit"`
	ShortTermRetention       int     `json:"shortTermMemoryRetention" yaml:"shortTermMemoryRetention"`
	MediumTriggerCount       int     `json:"mediumTermMemoryTriggerCount" yaml:"mediumTermMemoryTriggerCount"`
	LongTriggerCount         int     `json:"longTermMemoryTriggerCount" yaml:"longTermMemoryTriggerCount"`
	LongTermLimit            int     `json:"longTermMemoryLimit" yaml:"longTermMemoryLimit"`
	MaxSplitChars            int     `json:"maxSplitCharThreshold" yaml:"maxSplitCharThreshold"`
	MaxSplitWords            int     `json:"maxSplitWordThreshold" yaml:"maxSplitWordThreshold"`
	UseSummaries             bool    `json:"useMemorySummaries" yaml:"useMemorySummaries"`
	LongTermStorage          bool    `json:"longTermStorageEnabled" yaml:"longTermStorageEnabled"`
	DisableChannelInstancing bool    `json:"disableChannelInstancingForMemories" yaml:"disableChannelInstancingForMemories"`
	SummaryModel             string  `json:"summaryModel" yaml:"summaryModel"`
	SummarySystemPrompt      string  `json:"summarySystemPrompt" yaml:"summarySystemPrompt"`
	OtherTemperature         float64 `json:"otherTemperature" yaml:"otherTemperature"`
	OtherTopP                float64 `json:"otherTopP" yaml:"otherTopP"`
	UseGlobalConfig          bool    `json:"useGlobalConfig" yaml:"useGlobalConfig"`
	BackfillSchedule         string  `json:"backfillSchedule" yaml:"backfillSchedule"`
}

type ProactiveConfig struct {
	Channels        FlexStringList `json:"proactiveModeChannels" yaml:"proactiveModeChannels"`
	WaitMinMs       int            `json:"proactiveWaitMinMs" yaml:"proactiveWaitMinMs"`
	WaitMaxMs       int            `json:"proactiveWaitMaxMs" yaml:"proactiveWaitMaxMs"`
	ActiveTimeStart string         `json:"proactiveActiveTimeStart" yaml:"proactiveActiveTimeStart"`
	ActiveTimeEnd   string         `json:"proactiveActiveTimeEnd" yaml:"proactiveActiveTimeEnd"`
	Schedule        string         `json:"schedule" yaml:"schedule"`
}

// SearchConfig selects the /search backend: "perplexity", "duckduckgo" or
// "none". Perplexity falls back to DuckDuckGo when no token is set.
type SearchConfig struct {
	Provider        string `json:"provider" yaml:"provider"`
	PerplexityToken string `json:"perplexityApiToken,omitempty" yaml:"perplexityApiToken,omitempty"`
	PerplexityModel string `json:"perplexityModel" yaml:"perplexityModel"`
	PerplexityBase  string `json:"perplexityBase,omitempty" yaml:"perplexityBase,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" | "json"
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

// FlexStringList is a []string that can unmarshal from arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
// Chat platform ids are often pasted as bare numbers.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// UnmarshalYAML accepts scalar items of any type.
func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*f = nil
		return nil
	}
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.autopilot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autopilot"
	}
	return filepath.Join(home, ".autopilot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; the default may
// be empty. An unset ${VAR} without a default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		idx := envVarPattern.FindStringSubmatchIndex(match)
		if len(idx) < 4 {
			return match
		}
		varName := match[idx[2]:idx[3]]
		hasDefault := len(idx) >= 6 && idx[4] >= 0
		defaultVal := ""
		if hasDefault {
			defaultVal = match[idx[4]:idx[5]]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML or indented JSON depending on the extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var respondModes = []string{"always", "mention", "random", "attentive", "human"}

// Validate checks that the config has valid values. Every problem is
// reported in one error wrapping ErrInvalid.
func Validate(cfg *Config) error {
	var errs []string

	mode := strings.ToLower(cfg.Respond.Mode)
	valid := false
	for _, m := range respondModes {
		if m == mode {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, "respond.respondMode must be one of: "+strings.Join(respondModes, ", "))
	}
	if cfg.Respond.Chance < 0 || cfg.Respond.Chance > 1 {
		errs = append(errs, "respond.respondChance must be between 0 and 1")
	}
	if cfg.Respond.DedupeSeconds < 0 {
		errs = append(errs, "respond.dedupeSeconds must be >= 0")
	}
	if cfg.Respond.ResponseCooldownMs < 0 || cfg.Respond.GlobalResponseCooldownMs < 0 {
		errs = append(errs, "respond cooldowns must be >= 0")
	}
	if cfg.Respond.SessionIdleMs < 0 {
		errs = append(errs, "respond.sessionIdleMs must be >= 0")
	}
	if cfg.Respond.FloodBurst < 0 || cfg.Respond.FloodPerMinute < 0 {
		errs = append(errs, "respond flood limits must be >= 0")
	}

	for _, t := range []struct {
		name string
		val  float64
		max  float64
	}{
		{"general.replyTemperature", cfg.General.ReplyTemperature, 2},
		{"general.replyTopP", cfg.General.ReplyTopP, 1},
		{"memory.otherTemperature", cfg.Memory.OtherTemperature, 2},
		{"memory.otherTopP", cfg.Memory.OtherTopP, 1},
	} {
		if t.val < 0 || t.val > t.max {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and %g", t.name, t.max))
		}
	}

	if cfg.Delivery.WPM < 1 {
		errs = append(errs, "delivery.wpm must be >= 1")
	}
	if cfg.Delivery.WPMVariance < 0 {
		errs = append(errs, "delivery.wpmVariance must be >= 0")
	}

	if cfg.Memory.ShortTermLimit < 1 {
		errs = append(errs, "memory.shortTermMemoryLimit must be >= 1")
	}
	if cfg.Memory.ShortTermRetention < 0 || cfg.Memory.ShortTermRetention >= cfg.Memory.ShortTermLimit {
		errs = append(errs, "memory.shortTermMemoryRetention must be >= 0 and below shortTermMemoryLimit")
	}
	if cfg.Memory.MediumTriggerCount < 1 {
		errs = append(errs, "memory.mediumTermMemoryTriggerCount must be >= 1")
	}
	if cfg.Memory.LongTriggerCount < 1 {
		errs = append(errs, "memory.longTermMemoryTriggerCount must be >= 1")
	}
	if cfg.Memory.LongTermLimit < -1 || cfg.Memory.LongTermLimit == 0 {
		errs = append(errs, "memory.longTermMemoryLimit must be -1 (unbounded) or >= 1")
	}
	if cfg.Memory.MaxSplitChars < 1 || cfg.Memory.MaxSplitWords < 1 {
		errs = append(errs, "memory split thresholds must be >= 1")
	}
	if cfg.General.ImportantMemoryLimit < 0 {
		errs = append(errs, "general.importantMemoryLimit must be >= 0")
	}

	if _, err := ParseClock(cfg.Proactive.ActiveTimeStart); err != nil {
		errs = append(errs, "proactive.proactiveActiveTimeStart: "+err.Error())
	}
	if _, err := ParseClock(cfg.Proactive.ActiveTimeEnd); err != nil {
		errs = append(errs, "proactive.proactiveActiveTimeEnd: "+err.Error())
	}
	if cfg.Proactive.WaitMinMs < 0 || cfg.Proactive.WaitMaxMs < cfg.Proactive.WaitMinMs {
		errs = append(errs, "proactive wait bounds must satisfy 0 <= min <= max")
	}

	switch cfg.Search.Provider {
	case "", "perplexity", "duckduckgo", "none":
	default:
		errs = append(errs, "search.provider must be one of: perplexity, duckduckgo, none")
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, "logging.format must be one of: text, json")
	}

	for _, name := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", name))
		}
	}
	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
		}
	}
	for name, pc := range cfg.Providers {
		switch pc.KindFor(name) {
		case "openai", "claude":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s: unknown kind %q", name, pc.KindFor(name)))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}

// KindFor resolves the provider implementation for the entry registered
// under name.
func (pc ProviderConfig) KindFor(name string) string {
	if pc.Kind != "" {
		return pc.Kind
	}
	return name
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
