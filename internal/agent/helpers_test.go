package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"autopilot/internal/domain"
	"autopilot/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var errBoom = errors.New("boom")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// mockProvider answers chat requests through respond and records them.
type mockProvider struct {
	mu      sync.Mutex
	respond func(req domain.ChatRequest) (string, error)
	calls   []domain.ChatRequest
}

func (m *mockProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	respond := m.respond
	m.mu.Unlock()
	if respond == nil {
		return &domain.ChatResponse{Content: "ok"}, nil
	}
	out, err := respond(req)
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{Content: out}, nil
}

func (m *mockProvider) Name() string     { return "mock" }
func (m *mockProvider) Models() []string { return []string{"mock-model"} }

func (m *mockProvider) requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.calls...)
}

// replyProvider answers every request that is not a classifier call with
// the given replies in order; the last reply repeats.
func replyProvider(replies ...string) *mockProvider {
	var (
		mu sync.Mutex
		i  int
	)
	return &mockProvider{respond: func(req domain.ChatRequest) (string, error) {
		if isClassifier(req) {
			return "no", nil
		}
		mu.Lock()
		defer mu.Unlock()
		out := replies[min(i, len(replies)-1)]
		i++
		return out, nil
	}}
}

func isClassifier(req domain.ChatRequest) bool {
	return req.MaxTokens == classifierMaxTokens
}

// mockSender records outbound messages.
type mockSender struct {
	mu     sync.Mutex
	sent   []domain.OutboundMessage
	err    error
	onSend func(domain.OutboundMessage)
}

func (m *mockSender) Send(_ context.Context, msg domain.OutboundMessage) error {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, msg)
	hook := m.onSend
	m.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (m *mockSender) messages() []domain.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutboundMessage(nil), m.sent...)
}

func (m *mockSender) contents() []string {
	var out []string
	for _, msg := range m.messages() {
		out = append(out, msg.Content)
	}
	return out
}

// mockTyper counts typing indicator calls.
type mockTyper struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (m *mockTyper) StartTyping(context.Context, string) error {
	m.mu.Lock()
	m.starts++
	m.mu.Unlock()
	return nil
}

func (m *mockTyper) StopTyping(context.Context, string) error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	return nil
}

func (m *mockTyper) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

// mockSearcher returns a fixed result.
type mockSearcher struct {
	mu      sync.Mutex
	result  string
	err     error
	queries []string
}

func (m *mockSearcher) Search(_ context.Context, query string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	return m.result, m.err
}

// mockLookup is a fixed presence and channel type.
type mockLookup struct {
	presence string
	kind     domain.ChannelType
}

func (m mockLookup) Presence(context.Context) string { return m.presence }
func (m mockLookup) ChannelType(context.Context, string) domain.ChannelType {
	return m.kind
}

// testSettings allows everything in "c1" and makes pacing near-instant.
func testSettings() Settings {
	st := DefaultSettings()
	st.Whitelist = []string{"c1", "c2"}
	st.RespondMode = ModeAlways
	st.ConvCooldown = 0
	st.GlobalCooldown = 0
	st.WPM = 600000
	st.WPMVariance = 0
	st.TypingIndicator = false
	st.AlreadyAnswered = false
	return st
}

func newTestStore(clock *fakeClock) *memory.Store {
	return memory.NewStore(memory.StoreConfig{Now: clock.Now, Logger: testLogger()})
}

func contentsOf(entries []domain.MemoryEntry) string {
	var parts []string
	for _, e := range entries {
		parts = append(parts, e.Content)
	}
	return strings.Join(parts, "|")
}
