package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"autopilot/internal/domain"
	"autopilot/internal/memory"
)

const (
	classifierMaxTokens = 100
	intrigueHistory     = 10
	answeredHistory     = 10
	heuristicWordLimit  = 10
)

const alreadyAnsweredPrompt = `You are a specialized conversation analyzer. You have a transcript of a recent conversation between a user and an assistant, followed by a new user message.

Your task:
1. Determine if the new user message has already been fully addressed or answered by the assistant's prior responses.
2. If yes, respond "yes". Otherwise, respond "no".

Only output "yes" or "no".`

// Decider answers whether the agent should reply to a message.
type Decider struct {
	provider  domain.Provider
	store     *memory.Store
	sessions  *SessionManager
	cooldowns *Cooldowns
	settings  func() Settings
	memory    func() memory.Settings
	selfID    func() string
	rand      func() float64
	logger    *slog.Logger
}

// DeciderConfig configures a Decider.
type DeciderConfig struct {
	Provider  domain.Provider // optional; without it the intrigue check is skipped
	Store     *memory.Store
	Sessions  *SessionManager
	Cooldowns *Cooldowns
	Settings  func() Settings
	Memory    func() memory.Settings
	SelfID    func() string
	Rand      func() float64 // defaults to math/rand/v2
	Logger    *slog.Logger
}

func NewDecider(cfg DeciderConfig) *Decider {
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(DefaultSettings())
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.StaticSettings(memory.DefaultSettings())
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionManager(nil, cfg.Logger)
	}
	if cfg.Cooldowns == nil {
		cfg.Cooldowns = NewCooldowns(nil)
	}
	if cfg.SelfID == nil {
		cfg.SelfID = func() string { return "" }
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Decider{
		provider:  cfg.Provider,
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		cooldowns: cfg.Cooldowns,
		settings:  cfg.Settings,
		memory:    cfg.Memory,
		selfID:    cfg.SelfID,
		rand:      cfg.Rand,
		logger:    cfg.Logger,
	}
}

// ShouldRespond applies cooldowns, session gating and the respond mode to
// an already-normalized message.
func (d *Decider) ShouldRespond(ctx context.Context, msg domain.InboundMessage, content string) bool {
	st := d.settings()
	conv := msg.ConversationID

	if !d.cooldowns.Ready(conv, st.ConvCooldown, st.GlobalCooldown) {
		d.logger.Debug("cooling down, not responding", "conversation", conv)
		return false
	}

	self := d.selfID()
	mentioned := self != "" && slices.Contains(msg.Mentions, self)
	if st.SessionGating && mentioned {
		d.sessions.Activate(conv)
	}
	gated := func() bool {
		return !st.SessionGating || d.sessions.Active(conv, st.SessionIdle)
	}

	switch st.RespondMode {
	case ModeAlways:
		return true
	case ModeMention:
		return mentioned
	case ModeRandom:
		return d.rand() < st.RespondChance
	case ModeAttentive:
		return gated()
	case ModeHuman:
		return gated() && d.human(ctx, msg, content, st)
	default:
		return false
	}
}

func (d *Decider) human(ctx context.Context, msg domain.InboundMessage, content string, st Settings) bool {
	if st.UseAIIntrigue && d.provider != nil {
		return d.intrigued(ctx, msg, content, st)
	}
	if st.UseHeuristic {
		return heuristic(content, st.TriggerWords)
	}
	return d.rand() < 0.5
}

// intrigued asks the classifier model whether the message deserves a reply.
func (d *Decider) intrigued(ctx context.Context, msg domain.InboundMessage, content string, st Settings) bool {
	var recent []string
	for _, e := range d.store.List(memory.TierShort, msg.ConversationID) {
		if msg.MessageID != "" && e.MessageID == msg.MessageID {
			continue
		}
		recent = append(recent, fmt.Sprintf("[%s]: %s", e.AuthorName, e.Content))
	}
	if len(recent) > intrigueHistory {
		recent = recent[len(recent)-intrigueHistory:]
	}

	prompt := st.IntriguePrompt
	if prompt == "" {
		prompt = DefaultIntriguePrompt
	}
	resp, err := d.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: "Recent conversation:\n" + strings.Join(recent, "\n")},
			{Role: "user", Content: "Current message: " + content},
		},
		Model:       st.IntrigueModel,
		MaxTokens:   classifierMaxTokens,
		Temperature: domain.Deterministic.Temperature,
		TopP:        domain.Deterministic.TopP,
	})
	if err != nil {
		d.logger.Warn("intrigue check failed", "conversation", msg.ConversationID, "err", err)
		return false
	}
	return strings.Contains(strings.ToLower(resp.Content), "yes")
}

// heuristic responds to questions, long messages and trigger words.
func heuristic(content, triggerWords string) bool {
	if strings.Contains(content, "?") || wordCount(content) > heuristicWordLimit {
		return true
	}
	lower := strings.ToLower(content)
	for _, t := range strings.Split(triggerWords, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// AlreadyAnswered asks the classifier whether the recent transcript already
// covers the request. Failures count as "not answered".
func (d *Decider) AlreadyAnswered(ctx context.Context, req Request) bool {
	if d.provider == nil {
		return false
	}
	st := d.settings()
	cross := d.memory().CrossConversation

	var lines []string
	for _, e := range d.store.Conversation(req.ConversationID, time.Now(), answeredHistory, cross) {
		lines = append(lines, memory.HistoryLine(e, cross))
	}
	resp, err := d.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: alreadyAnsweredPrompt},
			{Role: "user", Content: fmt.Sprintf("Conversation so far:\n%s\nNew user message:\n%s", strings.Join(lines, "\n"), req.Content)},
		},
		Model:       st.AlreadyAnsweredModel,
		MaxTokens:   classifierMaxTokens,
		Temperature: domain.Deterministic.Temperature,
		TopP:        domain.Deterministic.TopP,
	})
	if err != nil {
		d.logger.Warn("already-answered check failed", "conversation", req.ConversationID, "err", err)
		return false
	}
	return strings.Contains(strings.ToLower(strings.TrimSpace(resp.Content)), "yes")
}
