package memory

import (
	"context"
	"strings"
	"testing"

	"autopilot/internal/domain"
)

func TestSegmentCount(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		maxWords int
		want     int
	}{
		{"within both", "one two three", 100, 10, 1},
		{"chars dominate", strings.Repeat("a", 250), 100, 10, 3},
		{"words dominate", strings.Repeat("w ", 25), 1000, 10, 3},
		{"thresholds disabled", strings.Repeat("w ", 500), 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := segmentCount(tt.text, tt.maxChars, tt.maxWords); got != tt.want {
				t.Errorf("segmentCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSplit_SmallTextIsOneSegment(t *testing.T) {
	provider := &mockProvider{}
	s := NewSummarizer(provider, testLogger())
	got := s.Split(context.Background(), "short text", DefaultSettings())
	if len(got) != 1 || got[0] != "short text" {
		t.Errorf("unexpected split: %q", got)
	}
	if len(provider.calls) != 0 {
		t.Error("small text must not call the model")
	}
}

func TestSplit_UsesModelSegments(t *testing.T) {
	provider := &mockProvider{respond: func(req domain.ChatRequest) (string, error) {
		if !strings.Contains(systemPrompt(req), "exactly 2 segments") {
			t.Errorf("unexpected split prompt: %s", systemPrompt(req))
		}
		return "first part\n---SEGMENT---\nsecond part\n---SEGMENT---\n", nil
	}}
	st := DefaultSettings()
	st.MaxSplitChars = 30
	st.MaxSplitWords = 0

	s := NewSummarizer(provider, testLogger())
	got := s.Split(context.Background(), strings.Repeat("x", 50), st)
	if len(got) != 2 || got[0] != "first part" || got[1] != "second part" {
		t.Errorf("unexpected segments: %q", got)
	}
}

func TestSplit_FallsBackToLinePacking(t *testing.T) {
	provider := &mockProvider{respond: func(domain.ChatRequest) (string, error) {
		return "", errBoom
	}}
	st := DefaultSettings()
	st.MaxSplitChars = 0
	st.MaxSplitWords = 4

	text := "one two\nthree four\nfive six seven eight nine"
	got := NewSummarizer(provider, testLogger()).Split(context.Background(), text, st)
	want := []string{"one two\nthree four", "five six seven eight", "nine"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunkWords_LongWordOwnChunk(t *testing.T) {
	got := chunkWords("ab "+strings.Repeat("z", 12)+" cd", 5, 0)
	if len(got) != 3 || got[1] != strings.Repeat("z", 12) {
		t.Errorf("unexpected chunks: %q", got)
	}
}

func TestSummarize_DisabledAndEmpty(t *testing.T) {
	st := DefaultSettings()
	st.UseSummaries = false
	s := NewSummarizer(&mockProvider{}, testLogger())
	if _, err := s.Summarize(context.Background(), "x", st); err == nil {
		t.Error("expected error when summaries are disabled")
	}

	empty := NewSummarizer(&mockProvider{respond: func(domain.ChatRequest) (string, error) { return "  ", nil }}, testLogger())
	if _, err := empty.Summarize(context.Background(), "x", DefaultSettings()); err == nil {
		t.Error("expected error for blank summary")
	}
}

func TestSummarize_RequestShape(t *testing.T) {
	provider := &mockProvider{respond: func(domain.ChatRequest) (string, error) { return " note ", nil }}
	st := DefaultSettings()
	got, err := NewSummarizer(provider, testLogger()).Summarize(context.Background(), "log", st)
	if err != nil || got != "note" {
		t.Fatalf("Summarize = %q, %v", got, err)
	}
	req := provider.calls[0]
	if req.Model != st.SummaryModel || req.MaxTokens != summaryMaxTokens {
		t.Errorf("unexpected model/max tokens: %s/%d", req.Model, req.MaxTokens)
	}
	if req.Temperature != st.Sampling.Temperature || req.TopP != st.Sampling.TopP {
		t.Errorf("unexpected sampling: %v/%v", req.Temperature, req.TopP)
	}
	if req.Messages[1].Content != "Please summarize the following:\nlog\n" {
		t.Errorf("unexpected user prompt %q", req.Messages[1].Content)
	}
}

func TestDetectPersonality_None(t *testing.T) {
	provider := &mockProvider{respond: func(domain.ChatRequest) (string, error) { return "none", nil }}
	if _, ok := NewSummarizer(provider, testLogger()).DetectPersonality(context.Background(), "s", DefaultSettings()); ok {
		t.Error("expected NONE to be treated as no trait")
	}
}
