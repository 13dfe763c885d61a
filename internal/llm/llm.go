// Package llm provides the text-generation capability used by the run
// workflows: a Provider interface, an OpenAI-compatible REST client, and a
// priority-ordered chain that tries providers in sequence.
package llm

import (
	"context"
	"time"
)

// Message is a chat message in the OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single generation call.
type Options struct {
	// JSON requests json_object response formatting from the upstream model.
	JSON        bool
	MaxTokens   int
	Temperature float64
	// Timeout bounds the call; zero means the provider default.
	Timeout time.Duration
}

// Response is the result of one generation call.
type Response struct {
	Text      string
	ModelID   string
	LatencyMs int64
}

// Provider generates text from chat messages. Implementations must respect
// ctx cancellation and return rather than panic on upstream failures.
type Provider interface {
	Generate(ctx context.Context, messages []Message, opts Options) (Response, error)
}

// Embedder generates embedding vectors. The reference library uses it for
// chunk and query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
