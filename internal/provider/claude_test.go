package provider

import (
	"context"
	"net/http"
	"testing"

	"autopilot/internal/domain"
)

const claudeMessageBody = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "claude-test",
	"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world"}],
	"stop_reason": "end_turn",
	"stop_sequence": null,
	"usage": {"input_tokens": 3, "output_tokens": 2}
}`

func TestClaude_Chat(t *testing.T) {
	srv, payload, path := recordingServer(t, http.StatusOK, claudeMessageBody)
	p := NewClaude(ClaudeConfig{APIKey: "key", APIBase: srv.URL, Logger: testLogger()})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "persona"},
			{Role: "system", Content: "memories"},
			{Role: "user", Content: "look", ImageURL: "https://cdn.example/cat.png"},
		},
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		TopP:        0.8,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello world" || resp.Model != "claude-test" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if *path != "/v1/messages" {
		t.Fatalf("unexpected path %q", *path)
	}

	body := *payload
	if body["model"] != claudeDefaultModel {
		t.Fatalf("non-claude model names should map to the default, got %v", body["model"])
	}
	if body["max_tokens"] != float64(defaultMaxTokens) {
		t.Fatalf("expected default max_tokens, got %v", body["max_tokens"])
	}
	system, _ := body["system"].([]any)
	if len(system) != 2 {
		t.Fatalf("expected system turns lifted into the prompt, got %v", body["system"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	content, _ := msgs[0].(map[string]any)["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("expected text and image blocks, got %v", content)
	}
	if kind, _ := content[1].(map[string]any)["type"]; kind != "image" {
		t.Fatalf("expected an image block, got %v", kind)
	}
}

func TestClaude_ChatOnlySystem(t *testing.T) {
	srv, payload, _ := recordingServer(t, http.StatusOK, claudeMessageBody)
	p := NewClaude(ClaudeConfig{APIKey: "key", APIBase: srv.URL, Logger: testLogger()})

	if _, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "system", Content: "classify"}},
		Model:    "claude-sonnet-4-5",
	}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if (*payload)["model"] != "claude-sonnet-4-5" {
		t.Fatalf("claude model should pass through, got %v", (*payload)["model"])
	}
	msgs, _ := (*payload)["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("a placeholder user turn is required, got %v", msgs)
	}
}

func TestClaude_ChatError(t *testing.T) {
	srv, _, _ := recordingServer(t, http.StatusBadRequest, `{"type": "error", "error": {"type": "invalid_request_error", "message": "bad"}}`)
	p := NewClaude(ClaudeConfig{APIKey: "key", APIBase: srv.URL, Logger: testLogger()})

	if _, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
