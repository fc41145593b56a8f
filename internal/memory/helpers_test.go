package memory

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"os"
	"strings"
	"sync"

	"autopilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
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

func (m *mockProvider) callCount(match func(domain.ChatRequest) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if match(c) {
			n++
		}
	}
	return n
}

func systemPrompt(req domain.ChatRequest) string {
	if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
		return ""
	}
	return req.Messages[0].Content
}

func isSummary(req domain.ChatRequest) bool {
	return len(req.Messages) > 1 && strings.HasPrefix(req.Messages[1].Content, "Please summarize the following:")
}

func isPersonality(req domain.ChatRequest) bool {
	return systemPrompt(req) == personalitySystemPrompt
}

// summarizingProvider summarizes every snippet as "summary" and never finds
// a personality trait.
func summarizingProvider() *mockProvider {
	return &mockProvider{respond: func(req domain.ChatRequest) (string, error) {
		switch {
		case isSummary(req):
			return "summary", nil
		case isPersonality(req):
			return "NONE", nil
		default:
			return "query", nil
		}
	}}
}

// mockEmbedder hashes text into a small deterministic vector.
type mockEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float64, 8)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(seed>>33)/float64(1<<31) - 0.5
	}
	return vec, nil
}

var errBoom = errors.New("boom")

// memorySnapshots is an in-memory domain.SnapshotStore.
type memorySnapshots struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{data: make(map[string][]byte)}
}

func (m *memorySnapshots) Load(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *memorySnapshots) Save(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memorySnapshots) Close() error { return nil }
