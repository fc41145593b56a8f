package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"autopilot/internal/bus"
	"autopilot/internal/domain"
	"autopilot/internal/memory"
)

const (
	typingPollInterval = 100 * time.Millisecond
	typingPauseDefault = 2 * time.Second
	proactiveAuthor    = "proactive"
	outboundObserver   = "engine"
)

// Engine is the agent: it filters inbound messages into memory, decides
// whether to reply, and runs the serialized reply flow.
type Engine struct {
	bus       domain.MessageBus
	sender    domain.Sender
	store     *memory.Store
	cascade   *memory.Cascade
	persister *memory.Persister
	events    *bus.EventBus

	builder      *ContextBuilder
	orchestrator *Orchestrator
	decider      *Decider
	queue        *Queue
	pacer        *Pacer
	proactive    *Proactive
	sessions     *SessionManager
	cooldowns    *Cooldowns
	dedupe       *Deduper
	flood        *FloodGuard
	gate         Gate

	settings    func() Settings
	memory      func() memory.Settings
	now         func() time.Time
	typingPause time.Duration
	logger      *slog.Logger

	selfMu   sync.RWMutex
	selfID   string
	selfName string

	lastMu   sync.Mutex
	lastUser map[string]time.Time
	// attentive requests still waiting for their author to stop typing
	pending map[string]bool

	wg sync.WaitGroup
}

// EngineConfig holds the collaborators of an Engine.
type EngineConfig struct {
	Bus       domain.MessageBus
	Sender    domain.Sender
	Typer     domain.Typer         // optional
	Lookup    domain.ContextLookup // optional
	Provider  domain.Provider      // optional; replies fall back without it
	Searcher  domain.Searcher      // optional
	Store     *memory.Store
	Cascade   *memory.Cascade
	Retriever *memory.Retriever // optional
	Persister *memory.Persister // optional
	Events    *bus.EventBus     // optional
	Settings  func() Settings
	Memory    func() memory.Settings
	SelfID    string
	SelfName  string
	Now       func() time.Time
	Rand      func() float64
	// TypingPause is how long an author must be quiet before an attentive
	// reply starts. Defaults to 2s.
	TypingPause time.Duration
	Logger      *slog.Logger
}

// NewEngine wires the decision, queue, orchestration and delivery stages.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: memory store is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("engine: sender is required")
	}
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(DefaultSettings())
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.StaticSettings(memory.DefaultSettings())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.TypingPause <= 0 {
		cfg.TypingPause = typingPauseDefault
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	settings := cfg.Settings
	dedupe, err := NewDeduper(func() time.Duration { return settings().DedupeWindow })
	if err != nil {
		return nil, err
	}

	e := &Engine{
		bus:         cfg.Bus,
		sender:      cfg.Sender,
		store:       cfg.Store,
		cascade:     cfg.Cascade,
		persister:   cfg.Persister,
		events:      cfg.Events,
		sessions:    NewSessionManager(cfg.Now, cfg.Logger),
		cooldowns:   NewCooldowns(cfg.Now),
		dedupe:      dedupe,
		flood:       NewFloodGuard(cfg.Now),
		settings:    cfg.Settings,
		memory:      cfg.Memory,
		now:         cfg.Now,
		typingPause: cfg.TypingPause,
		logger:      cfg.Logger,
		selfID:      cfg.SelfID,
		selfName:    cfg.SelfName,
		lastUser:    make(map[string]time.Time),
		pending:     make(map[string]bool),
	}

	e.builder = NewContextBuilder(ContextBuilderConfig{
		Store:     cfg.Store,
		Retriever: cfg.Retriever,
		Lookup:    cfg.Lookup,
		Settings:  cfg.Settings,
		Memory:    cfg.Memory,
		Now:       cfg.Now,
		Logger:    cfg.Logger,
	})
	e.orchestrator = NewOrchestrator(OrchestratorConfig{
		Provider: cfg.Provider,
		Searcher: cfg.Searcher,
		Store:    cfg.Store,
		Builder:  e.builder,
		Settings: cfg.Settings,
		SendNow: func(ctx context.Context, conversationID, text string) error {
			return e.sender.Send(ctx, domain.OutboundMessage{ConversationID: conversationID, Content: text})
		},
		OnImportant: func() { e.Persist(context.Background()) },
		Logger:      cfg.Logger,
	})
	e.decider = NewDecider(DeciderConfig{
		Provider:  cfg.Provider,
		Store:     cfg.Store,
		Sessions:  e.sessions,
		Cooldowns: e.cooldowns,
		Settings:  cfg.Settings,
		Memory:    cfg.Memory,
		SelfID:    func() string { id, _ := e.Self(); return id },
		Rand:      cfg.Rand,
		Logger:    cfg.Logger,
	})
	e.queue = NewQueue(QueueConfig{
		Handle: func(ctx context.Context, req Request) {
			e.replyFlow(ctx, req, e.memory().CrossConversation)
		},
		AlreadyAnswered: func(ctx context.Context, req Request) bool {
			return e.settings().AlreadyAnswered && e.decider.AlreadyAnswered(ctx, req)
		},
		OnDrop: func(req Request) {
			e.settle(req)
			e.emit(bus.EventQueueDropped, req.ConversationID, nil)
		},
		Logger: cfg.Logger,
	})
	e.pacer = NewPacer(PacerConfig{
		Sender:   cfg.Sender,
		Typer:    cfg.Typer,
		Settings: cfg.Settings,
		Rand:     cfg.Rand,
		Now:      cfg.Now,
		Logger:   cfg.Logger,
	})
	e.proactive = NewProactive(ProactiveConfig{
		Store:    cfg.Store,
		Settings: cfg.Settings,
		Trigger:  e.TriggerProactive,
		Now:      cfg.Now,
		Rand:     cfg.Rand,
		Logger:   cfg.Logger,
	})
	return e, nil
}

// SetIdentity records the account the agent speaks as. Messages from it are
// ignored and its sends are stored as assistant turns.
func (e *Engine) SetIdentity(id, name string) {
	e.selfMu.Lock()
	defer e.selfMu.Unlock()
	e.selfID, e.selfName = id, name
}

// Self returns the agent's account id and name.
func (e *Engine) Self() (string, string) {
	e.selfMu.RLock()
	defer e.selfMu.RUnlock()
	return e.selfID, e.selfName
}

// Run consumes inbound messages until ctx is cancelled or the bus closes.
// Filtering and memory appends happen in arrival order; decisions run
// concurrently.
func (e *Engine) Run(ctx context.Context) {
	e.bus.OnOutbound(outboundObserver, e.ObserveOutbound)
	e.logger.Info("engine started")

	inbound := e.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				e.logger.Info("inbound channel closed, engine stopping")
				return
			}
			cand, ok := e.accept(ctx, msg)
			if !ok {
				continue
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.decide(ctx, cand)
			}()
		}
	}
}

// HandleInbound processes one message synchronously up to enqueueing.
func (e *Engine) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	if cand, ok := e.accept(ctx, msg); ok {
		e.decide(ctx, cand)
	}
}

// Wait blocks until pending decisions and the reply queue are idle.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.queue.Wait()
}

// Close releases engine resources.
func (e *Engine) Close() {
	e.dedupe.Close()
}

// candidate is an accepted inbound message awaiting a decision.
type candidate struct {
	msg     domain.InboundMessage
	content string
	key     string
	owner   *OwnerCommand
}

func (e *Engine) accept(ctx context.Context, msg domain.InboundMessage) (candidate, bool) {
	st := e.settings()
	if !st.Enabled {
		return candidate{}, false
	}
	content := strings.TrimSpace(msg.Content)
	conv := msg.ConversationID

	if cmd := ParseOwnerCommand(content, msg.AuthorID, st.OwnerID); cmd != nil {
		return candidate{msg: msg, content: content, owner: cmd}, true
	}
	if !st.Whitelisted(conv) {
		return candidate{}, false
	}
	if id, _ := e.Self(); id != "" && msg.AuthorID == id {
		return candidate{}, false
	}
	if !e.flood.Allow(msg.AuthorID, st.FloodBurst, st.FloodPerMinute) {
		e.logger.Debug("author over rate, message ignored", "conversation", conv, "author", msg.AuthorID)
		e.emit(bus.EventFloodDropped, conv, nil)
		return candidate{}, false
	}

	content = StripWatermark(StripMetadata(NormalizeContent(content)), st.WatermarkText)
	now := e.now()
	e.lastMu.Lock()
	e.lastUser[conv+"_"+msg.AuthorID] = now
	e.lastMu.Unlock()

	key := DedupeKey(conv, msg.AuthorID, content)
	if !e.dedupe.Reserve(key) {
		e.logger.Debug("duplicate message ignored", "conversation", conv, "author", msg.AuthorID)
		e.emit(bus.EventDedupeHit, conv, nil)
		return candidate{}, false
	}

	authorName := msg.AuthorName
	if authorName == "" {
		authorName = "User-" + msg.AuthorID
	}
	base := domain.MemoryEntry{
		ConversationID: conv,
		AuthorID:       msg.AuthorID,
		AuthorName:     authorName,
		Role:           domain.RoleUser,
		Content:        content,
		MessageID:      msg.MessageID,
		Timestamp:      now,
	}
	for _, a := range msg.Attachments {
		if isImageURL(a.URL) {
			img := base
			img.Kind = domain.KindImage
			img.ImageURL = a.URL
			e.store.Append(memory.TierShort, img)
			break
		}
	}
	text := base
	text.Kind = domain.KindMessage
	e.store.Append(memory.TierShort, text)
	e.emit(bus.EventMessageReceived, conv, map[string]any{"author": msg.AuthorID})

	intent := ParseIntent(content, msg.AuthorID, "")
	if intent.Kind == IntentGlobalMemory {
		e.addGlobal(ctx, msg.AuthorID, authorName, intent.Fact)
	}

	e.sessions.Touch(conv, st.SessionIdle)
	if intent.Kind == IntentEndSession {
		e.sessions.End(conv)
		return candidate{}, false
	}
	return candidate{msg: msg, content: content, key: key}, true
}

func (e *Engine) decide(ctx context.Context, c candidate) {
	if c.owner != nil {
		e.handleOwnerCommand(ctx, c.msg.ConversationID, c.owner)
		return
	}
	if !e.decider.ShouldRespond(ctx, c.msg, c.content) {
		return
	}
	req := Request{
		ConversationID: c.msg.ConversationID,
		Content:        c.content,
		DedupeKey:      c.key,
		AuthorID:       c.msg.AuthorID,
	}
	if e.settings().RespondMode == ModeAttentive && !e.hold(req) {
		// The pending reply is built after the pause and sees this message.
		e.logger.Debug("author still typing, message folded into pending reply", "conversation", req.ConversationID)
		return
	}
	e.queue.Enqueue(ctx, req)
}

// hold registers req as the author's pending attentive reply. It returns
// false when one is already waiting.
func (e *Engine) hold(req Request) bool {
	key := req.ConversationID + "_" + req.AuthorID
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	if e.pending[key] {
		return false
	}
	e.pending[key] = true
	return true
}

func (e *Engine) settle(req Request) {
	e.lastMu.Lock()
	delete(e.pending, req.ConversationID+"_"+req.AuthorID)
	e.lastMu.Unlock()
}

// replyFlow generates and delivers one reply under the global gate. A
// request arriving while another reply is in progress is dropped and its
// dedupe key released.
func (e *Engine) replyFlow(ctx context.Context, req Request, cross bool) {
	if !e.gate.TryAcquire() {
		e.logger.Debug("reply in progress, request skipped", "conversation", req.ConversationID)
		e.settle(req)
		e.dedupe.Release(req.DedupeKey)
		return
	}
	defer e.gate.Release()
	e.reply(ctx, req, cross)
}

// reply runs with the gate held.
func (e *Engine) reply(ctx context.Context, req Request, cross bool) {
	defer e.dedupe.Mark(req.DedupeKey)

	st := e.settings()
	started := e.now()
	var err error
	if st.RespondMode == ModeAttentive && req.AuthorID != proactiveAuthor {
		err = e.waitForTypingPause(ctx, req.ConversationID, req.AuthorID)
	}
	e.settle(req)
	if err != nil {
		return
	}

	reply := e.orchestrator.Generate(ctx, req.ConversationID, started, cross)
	if reply.Fallback {
		e.emit(bus.EventReplyFallback, req.ConversationID, nil)
	}

	lines, suppressed := splitDelivery(StripMetadata(reply.Text))
	if suppressed {
		e.logger.Info("reply suppressed", "conversation", req.ConversationID)
		e.emit(bus.EventReplySuppressed, req.ConversationID, nil)
		return
	}
	if len(lines) == 0 {
		return
	}

	sent, err := e.pacer.Deliver(ctx, req.ConversationID, lines, started)
	if err != nil {
		e.logger.Error("reply delivery failed", "conversation", req.ConversationID, "sent", sent, "err", err)
		return
	}
	e.cooldowns.Stamp(req.ConversationID)
	e.sessions.Activate(req.ConversationID)
	e.emit(bus.EventReplySent, req.ConversationID, map[string]any{"messages": sent, "searches": reply.Searches})
}

// waitForTypingPause polls until the author has been quiet for the pause
// interval.
func (e *Engine) waitForTypingPause(ctx context.Context, conversationID, authorID string) error {
	key := conversationID + "_" + authorID
	e.lastMu.Lock()
	last, ok := e.lastUser[key]
	e.lastMu.Unlock()
	if !ok {
		last = e.now()
	}
	for {
		if err := sleepCtx(ctx, typingPollInterval); err != nil {
			return err
		}
		e.lastMu.Lock()
		if cur := e.lastUser[key]; cur.After(last) {
			last = cur
		}
		e.lastMu.Unlock()
		if e.now().Sub(last) >= e.typingPause {
			return nil
		}
	}
}

// ObserveOutbound records the agent's own sends as assistant turns.
func (e *Engine) ObserveOutbound(msg domain.OutboundMessage) {
	if msg.SkipMemory {
		return
	}
	st := e.settings()
	if !st.Enabled || !st.Whitelisted(msg.ConversationID) {
		return
	}
	content := StripWatermark(strings.TrimSpace(msg.Content), st.WatermarkText)
	if content == "" {
		return
	}
	id, name := e.Self()
	if id == "" {
		id = "me"
	}
	if name == "" {
		name = "Me"
	}
	now := e.now()
	e.store.Append(memory.TierShort, domain.MemoryEntry{
		ConversationID: msg.ConversationID,
		AuthorID:       id,
		AuthorName:     name,
		Role:           domain.RoleAssistant,
		Kind:           domain.KindMessage,
		Content:        content,
		MessageID:      "out_" + strconv.FormatInt(now.UnixMilli(), 10),
		Timestamp:      now,
	})
	if fact, ok := GlobalMemoryFact(content); ok {
		e.addGlobal(context.Background(), id, name, fact)
	}
}

func (e *Engine) addGlobal(ctx context.Context, authorID, authorName, fact string) {
	e.store.Append(memory.TierGlobal, domain.MemoryEntry{
		AuthorID:   authorID,
		AuthorName: authorName,
		Role:       domain.RoleSystem,
		Kind:       domain.KindGlobal,
		Content:    fact,
	})
	e.logger.Info("global memory entry added", "author", authorID)
	e.Persist(ctx)
}

func (e *Engine) handleOwnerCommand(ctx context.Context, conversationID string, cmd *OwnerCommand) {
	e.logger.Info("owner command", "command", cmd.Name, "conversation", conversationID)
	e.emit(bus.EventOwnerCommand, conversationID, map[string]any{"command": cmd.Name})

	var err error
	switch cmd.Name {
	case CmdPushToMTM:
		err = e.cascade.PromoteShort(ctx, conversationID, true)
	case CmdPushToLTM:
		err = e.cascade.PromoteMedium(ctx, conversationID, true)
	case CmdConvoEnd:
		if err = e.cascade.PromoteShort(ctx, conversationID, true); err == nil {
			err = e.cascade.PromoteMedium(ctx, conversationID, true)
		}
	case CmdAddPersonality:
		if cmd.Arg == "" {
			return
		}
		e.cascade.AddPersonality(ctx, cmd.Arg)
	}

	reply := ownerReply(cmd)
	if err != nil {
		e.logger.Error("owner command failed", "command", cmd.Name, "conversation", conversationID, "err", err)
		reply = ownerErrorReply(cmd)
	} else {
		e.Persist(ctx)
	}
	if err := e.sender.Send(ctx, domain.OutboundMessage{
		ConversationID: conversationID,
		Content:        reply,
		SkipMemory:     true,
	}); err != nil {
		e.logger.Warn("owner reply failed", "conversation", conversationID, "err", err)
	}
}

// TriggerProactive pushes a check-in note and runs the reply flow with the
// transcript scoped to conversationID. Nothing is recorded while another
// reply holds the gate.
func (e *Engine) TriggerProactive(ctx context.Context, conversationID string) {
	if !e.gate.TryAcquire() {
		e.logger.Debug("reply in progress, check-in skipped", "conversation", conversationID)
		return
	}
	defer e.gate.Release()

	hasHistory := e.store.Count(memory.TierShort, conversationID) > 0
	now := e.now()
	e.store.Append(memory.TierShort, domain.MemoryEntry{
		ConversationID: conversationID,
		Role:           domain.RoleSystem,
		Kind:           domain.KindMessage,
		Content:        proactiveNote(conversationID, hasHistory),
		Ephemeral:      true,
		Timestamp:      now,
	})
	e.emit(bus.EventProactiveTrigger, conversationID, nil)
	e.reply(ctx, Request{
		ConversationID: conversationID,
		DedupeKey:      fmt.Sprintf("%s~%s~%d", conversationID, proactiveAuthor, now.UnixMilli()),
		AuthorID:       proactiveAuthor,
	}, false)
}

// Schedule registers the proactive and embedding-backfill jobs. Empty specs
// fall back to ProactiveSpec and BackfillSpec.
func (e *Engine) Schedule(ctx context.Context, s *Scheduler, proactiveSpec, backfillSpec string) error {
	if proactiveSpec == "" {
		proactiveSpec = ProactiveSpec
	}
	if backfillSpec == "" {
		backfillSpec = BackfillSpec
	}
	if err := s.Every(proactiveSpec, "proactive", func() { e.proactive.Check(ctx) }); err != nil {
		return err
	}
	return s.Every(backfillSpec, "embedding-backfill", func() {
		if e.cascade == nil {
			return
		}
		if n := e.cascade.Backfill(ctx); n > 0 {
			e.logger.Info("embeddings backfilled", "entries", n)
			e.Persist(ctx)
		}
	})
}

// Persist saves the memory snapshot. Failures are logged.
func (e *Engine) Persist(ctx context.Context) {
	if e.persister == nil {
		return
	}
	if err := e.persister.Save(ctx); err != nil {
		e.logger.Warn("memory snapshot not saved", "err", err)
	}
}

func (e *Engine) emit(eventType, conversationID string, payload map[string]any) {
	e.events.Emit(bus.Event{Type: eventType, ConversationID: conversationID, Payload: payload})
}

// PassReporter returns a cascade observer that publishes pass events and
// saves the snapshot after every pass.
func PassReporter(events *bus.EventBus, persister *memory.Persister, logger *slog.Logger) func(memory.PassResult) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(res memory.PassResult) {
		events.Emit(bus.Event{
			Type:           bus.EventPassCompleted,
			ConversationID: res.ConversationID,
			Payload: map[string]any{
				"stage":    string(res.Stage),
				"consumed": res.Consumed,
				"produced": res.Produced,
			},
		})
		if res.Dropped > 0 {
			events.Emit(bus.Event{
				Type:           bus.EventSegmentDropped,
				ConversationID: res.ConversationID,
				Payload:        map[string]any{"count": res.Dropped, "stage": string(res.Stage)},
			})
		}
		if persister != nil {
			if err := persister.Save(context.Background()); err != nil {
				logger.Warn("memory snapshot not saved", "err", err)
			}
		}
	}
}
