// Package theme generates and ranks candidate research themes.
package theme

// Evidence is one supporting snippet attached to a candidate.
type Evidence struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Evidence kinds.
const (
	KindScholar  = "scholar"
	KindProvider = "provider"
)

// Candidate is a scored research theme with supporting evidence.
type Candidate struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Novelty     float64    `json:"novelty"`
	Feasibility float64    `json:"feasibility"`
	Risk        float64    `json:"risk"`
	Rank        float64    `json:"rank"`
	Evidence    []Evidence `json:"evidence"`
}

// RawCandidate is a theme as produced by a generator, before scoring.
// Score pointers distinguish "not provided" from an explicit zero.
type RawCandidate struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Novelty     *float64 `json:"novelty,omitempty"`
	Feasibility *float64 `json:"feasibility,omitempty"`
	Risk        *float64 `json:"risk,omitempty"`
}

// Fallback returns the built-in candidate set used when generation fails.
func Fallback() []RawCandidate {
	f := func(v float64) *float64 { return &v }
	return []RawCandidate{
		{
			Title:   "Impact of LLM adoption on SME productivity",
			Summary: "Quantify productivity effects of large language model adoption in small and medium enterprises.",
			Novelty: f(0.7),
			Risk:    f(0.3),
		},
		{
			Title:   "Stablecoin shocks and DeFi liquidity",
			Summary: "Trace how stablecoin depeg events propagate through decentralized finance liquidity pools.",
			Novelty: f(0.8),
			Risk:    f(0.5),
		},
		{
			Title:   "RLHF data leakage in academic benchmarks",
			Summary: "Measure contamination of academic benchmarks by reinforcement learning from human feedback datasets.",
			Novelty: f(0.6),
			Risk:    f(0.4),
		},
	}
}
