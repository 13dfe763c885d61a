package scholarly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const s2DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

// SemanticScholar queries the Semantic Scholar paper-search endpoint.
// An API key is optional; the public endpoint allows keyless access at a
// lower rate limit.
type SemanticScholar struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewSemanticScholar creates a client. Pass "" for keyless access.
func NewSemanticScholar(apiKey string) *SemanticScholar {
	return &SemanticScholar{
		apiKey:  apiKey,
		baseURL: s2DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewSemanticScholarWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewSemanticScholarWithBaseURL(apiKey, baseURL string) *SemanticScholar {
	c := NewSemanticScholar(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type s2Response struct {
	Data []struct {
		Title   string `json:"title"`
		Year    int    `json:"year"`
		URL     string `json:"url"`
		Venue   string `json:"venue"`
		Authors []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"data"`
}

// Search queries the paper search endpoint and maps results to Items.
func (s *SemanticScholar) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", "title,year,authors,url,venue")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/paper/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting semantic scholar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed s2Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	items := make([]Item, 0, len(parsed.Data))
	for _, p := range parsed.Data {
		if p.Title == "" {
			continue
		}
		authors := make([]string, 0, len(p.Authors))
		for _, a := range p.Authors {
			if a.Name != "" {
				authors = append(authors, a.Name)
			}
		}
		items = append(items, Item{
			Title:   p.Title,
			Authors: authors,
			Year:    p.Year,
			URL:     p.URL,
			Venue:   p.Venue,
		})
	}
	return items, nil
}
