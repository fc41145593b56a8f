package search

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newDDG(t *testing.T, handler http.HandlerFunc) *DuckDuckGo {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDuckDuckGo(DuckDuckGoConfig{
		Endpoint:  srv.URL + "/",
		RetryBase: time.Millisecond,
		Logger:    testLogger(),
	})
}

func TestDuckDuckGo_Search(t *testing.T) {
	var gotQuery, gotAgent string
	d := newDDG(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAgent = r.Header.Get("User-Agent")
		io.WriteString(w, `{
			"Heading": "Go",
			"Abstract": "Go is a programming language.",
			"AbstractURL": "https://go.dev",
			"Answer": "",
			"RelatedTopics": [{"Text": "Goroutines"}, {"Text": ""}, {"Text": "Channels."}]
		}`)
	})

	got, err := d.Search(context.Background(), "  golang  ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "golang" {
		t.Fatalf("query should be trimmed, got %q", gotQuery)
	}
	if gotAgent != userAgent {
		t.Fatalf("unexpected user agent %q", gotAgent)
	}
	want := "Go is a programming language. (source: https://go.dev) Goroutines. Channels."
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestDuckDuckGo_CapsRelatedTopics(t *testing.T) {
	d := newDDG(t, func(w http.ResponseWriter, r *http.Request) {
		var topics []map[string]string
		for i := 0; i < 10; i++ {
			topics = append(topics, map[string]string{"Text": "t"})
		}
		json.NewEncoder(w).Encode(map[string]any{"RelatedTopics": topics})
	})

	got, err := d.Search(context.Background(), "x")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if n := strings.Count(got, "t."); n != maxRelatedTopics {
		t.Fatalf("expected %d topics, got %d in %q", maxRelatedTopics, n, got)
	}
}

func TestDuckDuckGo_NoResults(t *testing.T) {
	d := newDDG(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"Abstract": "", "RelatedTopics": []}`)
	})

	got, err := d.Search(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestDuckDuckGo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	d := newDDG(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"Answer": "42"}`)
	})

	got, err := d.Search(context.Background(), "meaning")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got != "42." {
		t.Fatalf("unexpected result %q", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDuckDuckGo_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	d := newDDG(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	if _, err := d.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != maxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", maxRetries+1, calls.Load())
	}
}

func TestDuckDuckGo_Errors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		handler http.HandlerFunc
	}{
		{"empty query", " ", func(w http.ResponseWriter, r *http.Request) {}},
		{"client error", "q", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) }},
		{"bad json", "q", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "<html>") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDDG(t, tt.handler)
			if _, err := d.Search(context.Background(), tt.query); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPerplexity_Search(t *testing.T) {
	var payload map[string]any
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &payload)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "1", "object": "chat.completion", "created": 1, "model": "sonar",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  It is sunny.  "}}]
		}`)
	}))
	defer srv.Close()

	p := NewPerplexity(PerplexityConfig{Token: "pplx-test", APIBase: srv.URL, Logger: testLogger()})
	got, err := p.Search(context.Background(), "weather in Hanoi")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got != "It is sunny." {
		t.Fatalf("unexpected result %q", got)
	}
	if auth != "Bearer pplx-test" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if path != "/chat/completions" {
		t.Fatalf("unexpected path %q", path)
	}
	if payload["model"] != "sonar" || payload["return_images"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}
	msgs, _ := payload["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", msgs)
	}
}

func TestPerplexity_MissingToken(t *testing.T) {
	p := NewPerplexity(PerplexityConfig{Logger: testLogger()})
	got, err := p.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got != MissingToken {
		t.Fatalf("expected missing token notice, got %q", got)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	if s := New(Config{Provider: "none", Logger: testLogger()}); s != nil {
		t.Fatalf("expected nil searcher, got %T", s)
	}
	if _, ok := New(Config{Provider: "duckduckgo", Logger: testLogger()}).(*DuckDuckGo); !ok {
		t.Fatal("expected duckduckgo")
	}
	if _, ok := New(Config{Provider: "perplexity", Logger: testLogger()}).(*DuckDuckGo); !ok {
		t.Fatal("perplexity without a token should fall back to duckduckgo")
	}
	if _, ok := New(Config{Provider: "perplexity", PerplexityToken: "t", Logger: testLogger()}).(*Perplexity); !ok {
		t.Fatal("expected perplexity")
	}
}
