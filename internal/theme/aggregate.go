package theme

import (
	"fmt"
	"sort"
	"strings"

	"github.com/planforge/planforge/internal/scholarly"
)

const (
	defaultTopK = 10
	maxTopK     = 20

	maxInsightEvidence = 3
	maxScholarEvidence = 3
)

// Weights are the rank formula coefficients. Zero values fall back to the
// defaults {novelty: 0.45, feasibility: 0.45, risk: 0.10}.
type Weights struct {
	Novelty     float64
	Feasibility float64
	Risk        float64
}

var defaultWeights = Weights{Novelty: 0.45, Feasibility: 0.45, Risk: 0.10}

var feasibilityKeywords = []string{
	"dataset", "data", "benchmark", "public", "open",
	"replic", "available", "method", "model", "evaluation",
}

var noveltyBoostKeywords = []string{
	"novel", "unexplored", "gap", "open problem", "new", "understudied",
}

var noveltyPenaltyKeywords = []string{
	"survey", "review", "well-studied",
}

// AggregateInput carries raw candidates plus the evidence pools they are
// scored and annotated against. Scholar items with author metadata are
// preferred for evidence text; ScholarTitles is the flat fallback.
type AggregateInput struct {
	Candidates    []RawCandidate
	Scholar       []scholarly.Item
	ScholarTitles []string
	Insights      []string
	TopK          int
	Weights       Weights
}

// Aggregate scores, deduplicates, annotates and ranks candidates. Missing
// scores are derived heuristically from the combined insight and scholar
// text. Candidates with duplicate titles (compared after normalization)
// keep their first occurrence. The result is sorted by rank descending and
// truncated to TopK, clamped to [1,20] with 10 as the default.
//
// Aggregate is pure: identical input yields identical output.
func Aggregate(in AggregateInput) []Candidate {
	topK := in.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	w := in.Weights
	if w.Novelty == 0 && w.Feasibility == 0 && w.Risk == 0 {
		w = defaultWeights
	}

	insights := dropEmpty(in.Insights)
	scholarTitles := dropEmpty(in.ScholarTitles)
	evidenceText := append(append([]string{}, insights...), scholarTitles...)
	for _, item := range in.Scholar {
		if t := strings.TrimSpace(item.Title); t != "" {
			evidenceText = append(evidenceText, t)
		}
	}
	evidence := buildEvidence(in.Scholar, scholarTitles, insights)

	scored := make([]Candidate, 0, len(in.Candidates))
	for i, raw := range in.Candidates {
		title := strings.TrimSpace(raw.Title)
		if title == "" {
			title = fmt.Sprintf("Theme %d", i+1)
		}

		feasibility := clamp01(derive(raw.Feasibility, func() float64 {
			return feasibilityScore(evidenceText)
		}))
		novelty := clamp01(derive(raw.Novelty, func() float64 {
			return noveltyScore(append(append([]string{}, evidenceText...), title))
		}))
		risk := clamp01(derive(raw.Risk, func() float64 {
			return (1 - feasibility) * 0.5
		}))

		id := raw.ID
		if id == "" {
			id = fmt.Sprintf("t%d", i+1)
		}

		scored = append(scored, Candidate{
			ID:          id,
			Title:       title,
			Summary:     raw.Summary,
			Novelty:     novelty,
			Feasibility: feasibility,
			Risk:        risk,
			Rank:        w.Novelty*novelty + w.Feasibility*feasibility - w.Risk*risk,
			Evidence:    evidence,
		})
	}

	seen := make(map[string]bool)
	deduped := scored[:0]
	for _, c := range scored {
		key := normalizeTitle(c.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, c)
	}

	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Rank > deduped[j].Rank })
	if len(deduped) > topK {
		deduped = deduped[:topK]
	}
	return deduped
}

// buildEvidence takes up to three provider insights then up to three
// scholar entries. Structured items render as "title — up to three author
// surnames"; without structured items the flat title list is used verbatim.
func buildEvidence(scholar []scholarly.Item, scholarTitles, insights []string) []Evidence {
	evidence := make([]Evidence, 0, maxInsightEvidence+maxScholarEvidence)
	for i, s := range insights {
		if i == maxInsightEvidence {
			break
		}
		evidence = append(evidence, Evidence{Kind: KindProvider, Text: s})
	}
	if len(scholar) > 0 {
		for i, item := range scholar {
			if i == maxScholarEvidence {
				break
			}
			if line := formatScholarLine(item); line != "" {
				evidence = append(evidence, Evidence{Kind: KindScholar, Text: line})
			}
		}
		return evidence
	}
	for i, t := range scholarTitles {
		if i == maxScholarEvidence {
			break
		}
		evidence = append(evidence, Evidence{Kind: KindScholar, Text: t})
	}
	return evidence
}

func formatScholarLine(item scholarly.Item) string {
	title := strings.TrimSpace(item.Title)
	surnames := make([]string, 0, 3)
	for _, a := range item.Authors {
		if len(surnames) == 3 {
			break
		}
		fields := strings.Fields(a)
		if len(fields) == 0 {
			continue
		}
		surnames = append(surnames, fields[len(fields)-1])
	}
	joined := strings.Join(surnames, ", ")
	switch {
	case title == "":
		return joined
	case joined == "":
		return title
	default:
		return title + " — " + joined
	}
}

// feasibilityScore is a keyword heuristic over the combined evidence text:
// 0.3 base plus 0.1 per matched keyword, capped at six matches.
func feasibilityScore(texts []string) float64 {
	t := strings.ToLower(strings.Join(texts, " \n "))
	hits := 0
	for _, kw := range feasibilityKeywords {
		if strings.Contains(t, kw) {
			hits++
		}
	}
	if hits > 6 {
		hits = 6
	}
	return clamp01(0.3 + 0.1*float64(hits))
}

// noveltyScore starts at 0.5, +0.1 per novelty signal and -0.1 per
// maturity signal present in the combined text.
func noveltyScore(texts []string) float64 {
	t := strings.ToLower(strings.Join(texts, " \n "))
	score := 0.5
	for _, kw := range noveltyBoostKeywords {
		if strings.Contains(t, kw) {
			score += 0.1
		}
	}
	for _, kw := range noveltyPenaltyKeywords {
		if strings.Contains(t, kw) {
			score -= 0.1
		}
	}
	return clamp01(score)
}

// normalizeTitle lowercases and collapses runs of non-alphanumerics into
// single spaces so near-identical titles dedupe together.
func normalizeTitle(title string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(title) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func derive(explicit *float64, fallback func() float64) float64 {
	if explicit != nil {
		return *explicit
	}
	return fallback()
}

func dropEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
