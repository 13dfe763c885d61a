package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planforge/planforge/internal/llm"
	"github.com/planforge/planforge/internal/theme"
)

const maxBackgroundEvidence = 8

// DraftFromCandidate builds a plan draft from a selected theme without any
// model call. The candidate's summary and evidence seed the background
// section; the remaining sections are templated outlines for the author to
// fill in. A nil candidate yields a generic draft.
func DraftFromCandidate(selected *theme.Candidate) Draft {
	title := "Selected Theme"
	if selected != nil && strings.TrimSpace(selected.Title) != "" {
		title = selected.Title
	}
	lower := strings.ToLower(title)
	return Draft{
		Title:          title,
		Background:     backgroundFromCandidate(selected),
		RQ:             fmt.Sprintf("What is the impact/effect of %s?", lower),
		Hypothesis:     fmt.Sprintf("We hypothesize %s yields measurable improvements with trade-offs.", lower),
		Data:           "Outline target datasets/sources (public stats, platform logs, paper corpora)",
		Methods:        "Candidate methods: descriptive, DiD, IV, synthetic control, ablation/robustness",
		Identification: "Assumptions and threats; proxies; instruments; falsification checks",
		Validation:     "Holdout evaluation; sensitivity; placebo; external benchmark",
		Ethics:         "Bias, privacy, consent, misuse considerations; mitigation steps",
	}
}

// backgroundFromCandidate renders the selected theme's summary, evidence
// bullets and score metrics as a markdown background section.
func backgroundFromCandidate(c *theme.Candidate) string {
	if c == nil {
		return ""
	}
	lines := []string{
		"# Background / Prior Work\n",
		"*Generated from selected theme research*\n",
		"\n## " + c.Title,
	}
	if s := strings.TrimSpace(c.Summary); s != "" {
		lines = append(lines, "\n"+s)
	}

	var bullets []string
	for i, e := range c.Evidence {
		if i == maxBackgroundEvidence {
			break
		}
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		tag := ""
		switch e.Kind {
		case theme.KindScholar:
			tag = "[Scholar]"
		case theme.KindProvider:
			tag = "[Research]"
		}
		bullets = append(bullets, strings.TrimSpace("- "+tag+" "+text))
	}
	if len(bullets) > 0 {
		lines = append(lines, "\n### Evidence", strings.Join(bullets, "\n"))
	}

	metrics := []string{
		fmt.Sprintf("Novelty: %.0f%%", c.Novelty*100),
		fmt.Sprintf("Feasibility: %.0f%%", c.Feasibility*100),
		fmt.Sprintf("Risk: %.0f%%", c.Risk*100),
	}
	lines = append(lines, fmt.Sprintf("\n*%s*", strings.Join(metrics, " • ")))

	return strings.Join(lines, "\n")
}

// GenerateDraft asks the model for a full plan draft for the given title.
func GenerateDraft(ctx context.Context, provider llm.Provider, title string) (Draft, error) {
	if provider == nil {
		return Draft{}, fmt.Errorf("plan: no provider configured")
	}
	if strings.TrimSpace(title) == "" {
		title = "Research Plan"
	}

	system := strings.Join([]string{
		"You are a research planning assistant.",
		"Produce a structured research plan in strict JSON with keys:",
		"{title, rq, hypothesis, data, methods, identification, validation, ethics}",
		"All values are concise strings. No markdown, no commentary, JSON only.",
		"Guidance:",
		"- rq: a crisp, testable research question",
		"- hypothesis: falsifiable statement",
		"- data: concrete sources/datasets",
		"- methods: econometrics/ML/experimental methods as applicable",
		"- identification: assumptions, threats, instruments/design",
		"- validation: evaluation, robustness, sensitivity",
		"- ethics: privacy, bias, consent, misuse mitigation",
	}, "\n")

	user := strings.Join([]string{
		"Selected Theme Title: " + title,
		"Return ONLY the JSON object with the keys specified.",
	}, "\n\n")

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llm.Options{JSON: true, MaxTokens: 900})
	if err != nil {
		return Draft{}, fmt.Errorf("plan: draft generation failed: %w", err)
	}

	draft, ok := parseDraft(resp.Text)
	if !ok {
		return Draft{}, fmt.Errorf("plan: unparseable draft response")
	}
	if strings.TrimSpace(draft.Title) == "" {
		draft.Title = title
	}
	return draft, nil
}

// Refine asks the model to revise a draft according to free-text review
// comments. Missing fields in the response default to empty strings.
func Refine(ctx context.Context, provider llm.Provider, original Draft, review string) (Draft, error) {
	if provider == nil {
		return Draft{}, fmt.Errorf("plan: no provider configured")
	}

	originalJSON, err := json.Marshal(original)
	if err != nil {
		return Draft{}, fmt.Errorf("plan: encode original: %w", err)
	}

	system := strings.Join([]string{
		"You are a research planning assistant.",
		"Refine the given plan according to the review comments.",
		"Return strict JSON with the same keys: {title, rq, hypothesis, data, methods, identification, validation, ethics}.",
		"Do not add commentary or markdown. JSON only.",
	}, "\n")

	user := strings.Join([]string{
		"Original plan JSON:",
		string(originalJSON),
		"Review comments (constraints):",
		review,
		"Return ONLY the refined plan JSON with the same keys.",
	}, "\n\n")

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llm.Options{JSON: true, MaxTokens: 900})
	if err != nil {
		return Draft{}, fmt.Errorf("plan: refinement failed: %w", err)
	}

	refined, ok := parseDraft(resp.Text)
	if !ok {
		return Draft{}, fmt.Errorf("plan: unparseable refinement response")
	}
	return refined, nil
}

// parseDraft extracts a draft from model output, tolerating fenced or
// wrapped JSON and coercing absent fields to empty strings.
func parseDraft(text string) (Draft, bool) {
	var fields map[string]any
	if !llm.ExtractJSON(text, &fields) {
		return Draft{}, false
	}
	if inner, ok := fields["plan"].(map[string]any); ok {
		fields = inner
	}
	return Normalize(fields), true
}
