package theme

import (
	"context"
	"fmt"
	"strings"

	"github.com/planforge/planforge/internal/llm"
)

const maxPromptEvidence = 3

// GenerateInput steers candidate generation. Evidence snippets, when
// present, ground the prompt (at most three are used).
type GenerateInput struct {
	Query    string
	Domain   string
	Keywords string
	Evidence []string
}

// Generate asks the model for three raw candidates. It returns an error
// when the model fails or produces no parseable candidates; callers fall
// back to the built-in set.
func Generate(ctx context.Context, provider llm.Provider, in GenerateInput) ([]RawCandidate, error) {
	if provider == nil {
		return nil, fmt.Errorf("theme: no provider configured")
	}

	system := strings.Join([]string{
		"You are a research theme exploration assistant.",
		"Your task: propose exactly 3 concise, distinct research theme candidates.",
		"Output strictly in JSON with the following schema:",
		`{"candidates":[{"id":"t1","title":"...","novelty":0.7,"risk":0.3},{...},{...}]}`,
		"Constraints:",
		"- id: short stable id (t1,t2,t3)",
		"- title: one-line, specific and testable (no fluff)",
		"- novelty, risk: numbers in [0,1]",
		"- No prose, no markdown, no commentary. JSON only.",
	}, "\n")

	var parts []string
	if in.Domain != "" {
		parts = append(parts, fmt.Sprintf("Focus domain: %s. Prefer themes aligned with this domain.", in.Domain))
	}
	if in.Keywords != "" {
		parts = append(parts, fmt.Sprintf("Consider keywords: %s.", in.Keywords))
	}
	if in.Query != "" {
		parts = append(parts, "User query/context: "+in.Query)
	}
	if snippets := dropEmpty(in.Evidence); len(snippets) > 0 {
		if len(snippets) > maxPromptEvidence {
			snippets = snippets[:maxPromptEvidence]
		}
		parts = append(parts, "Related literature:\n- "+strings.Join(snippets, "\n- "))
	}
	parts = append(parts,
		"Return only JSON matching the schema above.",
		"Example:",
		`{"candidates":[{"id":"t1","title":"Impact of LLM adoption on SME productivity","novelty":0.7,"risk":0.3},{"id":"t2","title":"Stablecoin shocks and DeFi liquidity","novelty":0.8,"risk":0.5},{"id":"t3","title":"RLHF data leakage in academic benchmarks","novelty":0.6,"risk":0.4}]}`)

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: strings.Join(parts, "\n\n")},
	}, llm.Options{JSON: true, MaxTokens: 900})
	if err != nil {
		return nil, fmt.Errorf("theme: generation failed: %w", err)
	}

	var parsed struct {
		Candidates []RawCandidate `json:"candidates"`
	}
	if !llm.ExtractJSON(resp.Text, &parsed) || len(parsed.Candidates) == 0 {
		var list []RawCandidate
		if !llm.ExtractJSON(resp.Text, &list) {
			return nil, fmt.Errorf("theme: unparseable generation response")
		}
		parsed.Candidates = list
	}

	out := parsed.Candidates[:0]
	for _, c := range parsed.Candidates {
		if strings.TrimSpace(c.Title) == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("theme: model returned no usable candidates")
	}
	return out, nil
}
