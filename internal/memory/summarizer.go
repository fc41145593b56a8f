package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"autopilot/internal/domain"
)

const (
	// DefaultSummaryPrompt is the summarizer system prompt.
	DefaultSummaryPrompt = "You are an AI specialized in condensing conversation logs into short notes. Include both the author's name and ID for each message."

	segmentDelimiter = "---SEGMENT---"

	summaryMaxTokens     = 2048
	splitMaxTokens       = 4096
	personalityMaxTokens = 200
)

var errSummariesDisabled = errors.New("memory summaries disabled")

const splitPrompt = `You split conversation logs into semantically coherent segments.
Return exactly %d segments, in the original order, separated by a line containing only ` + segmentDelimiter + `.
Copy the text verbatim. Do not summarize, reorder, or add commentary.`

const personalitySystemPrompt = "You are a personality trait analyzer for an AI assistant. In the provided conversation snippet, the messages labeled 'User' represent the assistant's internal dialogue and state, and messages labeled 'Assistant' represent its external interactions. Your job is to identify only those details that alter or influence the assistant's internal personality: its tone, behavior, or preferences. Disregard any personality details that pertain to a human user. Refer to the assistant as you. If relevant details exist, return a single concise sentence summarizing them; otherwise, respond with 'NONE'."

const personalityUserPrompt = "Analyze the following conversation snippet and determine if it contains personality altering details that directly affect the assistant's behavior, tone, or internal personality. Do not consider any details about the user. If such details exist, extract and summarize them in one concise sentence. If not, simply answer with \"NONE\".\n\nSnippet:\n%s"

// Summarizer wraps the model calls the cascade needs: condensing a snippet,
// splitting an oversized block and spotting personality changes.
type Summarizer struct {
	provider domain.Provider
	logger   *slog.Logger
}

// NewSummarizer creates a Summarizer backed by provider.
func NewSummarizer(provider domain.Provider, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{provider: provider, logger: logger}
}

// Summarize condenses snippet into a short note.
func (s *Summarizer) Summarize(ctx context.Context, snippet string, st Settings) (string, error) {
	if !st.UseSummaries {
		return "", errSummariesDisabled
	}
	if s.provider == nil {
		return "", errors.New("no chat provider configured")
	}
	prompt := st.SummaryPrompt
	if prompt == "" {
		prompt = DefaultSummaryPrompt
	}
	resp, err := s.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: fmt.Sprintf("Please summarize the following:\n%s\n", snippet)},
		},
		Model:       st.SummaryModel,
		MaxTokens:   summaryMaxTokens,
		Temperature: st.Sampling.Temperature,
		TopP:        st.Sampling.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("summarization LLM call: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", errors.New("empty summary")
	}
	return summary, nil
}

// DetectPersonality asks whether summary changes the assistant's own
// personality. It returns the trait sentence and true when one was found.
func (s *Summarizer) DetectPersonality(ctx context.Context, summary string, st Settings) (string, bool) {
	if s.provider == nil || strings.TrimSpace(summary) == "" {
		return "", false
	}
	resp, err := s.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: personalitySystemPrompt},
			{Role: "user", Content: fmt.Sprintf(personalityUserPrompt, summary)},
		},
		Model:       st.SummaryModel,
		MaxTokens:   personalityMaxTokens,
		Temperature: domain.Deterministic.Temperature,
		TopP:        domain.Deterministic.TopP,
	})
	if err != nil {
		s.logger.Warn("personality detection failed", "err", err)
		return "", false
	}
	trait := strings.TrimSpace(resp.Content)
	if trait == "" || strings.EqualFold(trait, "NONE") {
		return "", false
	}
	return trait, true
}

// Split breaks text into segments that fit the configured thresholds. Text
// within both thresholds is returned as a single segment. Larger text is
// split by the model into semantically bounded parts; if that fails the text
// is packed line by line instead.
func (s *Summarizer) Split(ctx context.Context, text string, st Settings) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	n := segmentCount(text, st.MaxSplitChars, st.MaxSplitWords)
	if n <= 1 {
		return []string{text}
	}

	if s.provider != nil {
		resp, err := s.provider.Chat(ctx, domain.ChatRequest{
			Messages: []domain.Message{
				{Role: "system", Content: fmt.Sprintf(splitPrompt, n)},
				{Role: "user", Content: text},
			},
			Model:       st.SummaryModel,
			MaxTokens:   splitMaxTokens,
			Temperature: domain.Deterministic.Temperature,
			TopP:        domain.Deterministic.TopP,
		})
		if err == nil {
			if parts := parseSegments(resp.Content); len(parts) > 0 {
				var out []string
				for _, p := range parts {
					out = append(out, packLines(p, st.MaxSplitChars, st.MaxSplitWords)...)
				}
				return out
			}
			s.logger.Warn("split call returned no segments, packing locally", "segments", n)
		} else {
			s.logger.Warn("split call failed, packing locally", "segments", n, "err", err)
		}
	}
	return packLines(text, st.MaxSplitChars, st.MaxSplitWords)
}

// segmentCount returns how many segments text needs to stay within both
// thresholds. Non-positive thresholds are ignored.
func segmentCount(text string, maxChars, maxWords int) int {
	n := 1
	if maxChars > 0 {
		if c := int(math.Ceil(float64(len([]rune(text))) / float64(maxChars))); c > n {
			n = c
		}
	}
	if maxWords > 0 {
		if w := int(math.Ceil(float64(len(strings.Fields(text))) / float64(maxWords))); w > n {
			n = w
		}
	}
	return n
}

func parseSegments(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, segmentDelimiter) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fits(text string, maxChars, maxWords int) bool {
	return segmentCount(text, maxChars, maxWords) <= 1
}

// packLines groups whole lines into segments within both thresholds. A line
// that is too long on its own is broken on word boundaries.
func packLines(text string, maxChars, maxWords int) []string {
	if fits(text, maxChars, maxWords) {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	var (
		out     []string
		current string
	)
	flush := func() {
		if t := strings.TrimSpace(current); t != "" {
			out = append(out, t)
		}
		current = ""
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !fits(line, maxChars, maxWords) {
			flush()
			out = append(out, chunkWords(line, maxChars, maxWords)...)
			continue
		}
		candidate := line
		if current != "" {
			candidate = current + "\n" + line
		}
		if fits(candidate, maxChars, maxWords) {
			current = candidate
			continue
		}
		flush()
		current = line
	}
	flush()
	return out
}

// chunkWords splits text on whitespace into chunks within both thresholds.
// A single word longer than maxChars becomes its own chunk.
func chunkWords(text string, maxChars, maxWords int) []string {
	var (
		out     []string
		current []string
		length  int
	)
	for _, w := range strings.Fields(text) {
		wl := len([]rune(w))
		next := length + wl
		if len(current) > 0 {
			next++
		}
		overChars := maxChars > 0 && next > maxChars
		overWords := maxWords > 0 && len(current)+1 > maxWords
		if len(current) > 0 && (overChars || overWords) {
			out = append(out, strings.Join(current, " "))
			current, length = nil, 0
			next = wl
		}
		current = append(current, w)
		length = next
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out
}
