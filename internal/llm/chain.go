package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain tries a list of providers in priority order and returns the first
// successful response. A provider that errors is skipped; the next one is
// tried with the same messages and options.
type Chain struct {
	providers []Provider
}

// NewChain creates a Chain over the given providers. Nil entries are dropped.
func NewChain(providers ...Provider) *Chain {
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Chain{providers: out}
}

// Generate tries each provider in order. Context cancellation stops the
// chain immediately instead of falling through.
func (c *Chain) Generate(ctx context.Context, messages []Message, opts Options) (Response, error) {
	if len(c.providers) == 0 {
		return Response{}, errors.New("llm: no providers configured")
	}

	var lastErr error
	for i, p := range c.providers {
		resp, err := p.Generate(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		slog.Debug("llm chain: provider failed, trying next", "index", i, "error", err)
		lastErr = err
	}
	return Response{}, fmt.Errorf("all %d providers failed: %w", len(c.providers), lastErr)
}
