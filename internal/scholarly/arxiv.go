package scholarly

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const arxivDefaultBaseURL = "http://export.arxiv.org/api"

// Arxiv queries the arXiv Atom API. It is the secondary evidence source,
// consulted when Semantic Scholar comes back empty.
type Arxiv struct {
	baseURL    string
	httpClient *http.Client
}

// NewArxiv creates an arXiv client.
func NewArxiv() *Arxiv {
	return &Arxiv{
		baseURL: arxivDefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewArxivWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewArxivWithBaseURL(baseURL string) *Arxiv {
	a := NewArxiv()
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string `xml:"title"`
	ID        string `xml:"id"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

var wsRe = regexp.MustCompile(`\s+`)

// Search queries the arXiv Atom feed and maps entries to Items.
func (a *Arxiv) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("search_query", "all:"+query)
	q.Set("start", "0")
	q.Set("max_results", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/query?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/atom+xml")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting arxiv: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding atom feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		title := wsRe.ReplaceAllString(strings.TrimSpace(e.Title), " ")
		if title == "" {
			continue
		}

		link := e.ID
		for _, l := range e.Links {
			if l.Rel == "alternate" && l.Href != "" {
				link = l.Href
				break
			}
		}

		year := 0
		if len(e.Published) >= 4 {
			year, _ = strconv.Atoi(e.Published[:4])
		}

		authors := make([]string, 0, len(e.Authors))
		for _, au := range e.Authors {
			if au.Name != "" {
				authors = append(authors, au.Name)
			}
		}

		items = append(items, Item{
			Title:   title,
			Authors: authors,
			Year:    year,
			URL:     link,
			Venue:   "arXiv",
		})
	}
	return items, nil
}
