package domain

import "context"

// Provider is the interface all chat-completion backends must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
}

// Embedder turns text into a vector for similarity retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Searcher answers a free-form web query with a prose result.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64

	// Sampling penalties and token bias. Only OpenAI honors them.
	FrequencyPenalty float64
	PresencePenalty  float64
	LogitBias        map[string]int64
}

type ChatResponse struct {
	Content   string
	Model     string
	LatencyMs int64 // time taken for this LLM call in milliseconds
}

// Message is one chat turn. ImageURL, when set, is sent as an image part
// after the text part.
type Message struct {
	Role     string `json:"role"` // system | user | assistant
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// Sampling holds the temperature/top_p pair used for a call family.
type Sampling struct {
	Temperature float64
	TopP        float64
}

// Deterministic is used for classifier-style calls.
var Deterministic = Sampling{Temperature: 0, TopP: 1}
