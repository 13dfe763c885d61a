package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/planforge/planforge/internal/llm"
)

// InsightProvider returns short web-grounded insight bullets for a topic.
// It is best-effort: any failure yields an empty slice.
type InsightProvider interface {
	Insights(ctx context.Context, topic string, limit int) []string
}

// LLMInsights produces insight bullets through an online-search chat model.
type LLMInsights struct {
	provider llm.Provider
}

// NewLLMInsights wraps the given provider. A nil provider is allowed and
// always yields no insights.
func NewLLMInsights(provider llm.Provider) *LLMInsights {
	return &LLMInsights{provider: provider}
}

// Insights asks the model for up to limit recent findings on the topic.
// The model is asked for a JSON object; free-text responses are split into
// lines as a fallback. Errors degrade to an empty slice.
func (p *LLMInsights) Insights(ctx context.Context, topic string, limit int) []string {
	topic = strings.TrimSpace(topic)
	if p == nil || p.provider == nil || topic == "" {
		return nil
	}
	if limit < 1 {
		limit = 1
	}

	prompt := fmt.Sprintf(`List up to %d recent, concrete findings or developments relevant to the research topic below. Prefer findings from the last two years. Each bullet is one sentence.

Topic: %s

Respond with JSON: {"bullets": ["...", "..."]}`, limit, topic)

	resp, err := p.provider.Generate(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	}, llm.Options{JSON: true, MaxTokens: 500})
	if err != nil {
		slog.Debug("evidence: insights failed", "error", err)
		return nil
	}

	var parsed struct {
		Bullets []string `json:"bullets"`
	}
	var bullets []string
	if llm.ExtractJSON(resp.Text, &parsed) {
		bullets = parsed.Bullets
	} else {
		bullets = splitLines(resp.Text)
	}

	out := make([]string, 0, limit)
	for _, b := range bullets {
		b = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(b), "-*• "))
		if b == "" {
			continue
		}
		out = append(out, b)
		if len(out) == limit {
			break
		}
	}
	return out
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
