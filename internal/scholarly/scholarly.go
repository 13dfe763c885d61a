// Package scholarly provides literature-search clients used as evidence
// sources: Semantic Scholar (primary) and arXiv (secondary).
package scholarly

import "context"

// Item is a normalized literature reference.
type Item struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	URL     string   `json:"url,omitempty"`
	Venue   string   `json:"venue,omitempty"`
}

// Source searches a literature index. Implementations return an empty slice
// (not an error) for queries with no matches; errors are reserved for
// transport and decoding failures.
type Source interface {
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}
