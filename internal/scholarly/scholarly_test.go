package scholarly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSemanticScholar_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paper/search" {
			t.Errorf("path = %q, want /paper/search", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "llm adoption" {
			t.Errorf("query = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"title": "LLMs in Small Firms",
					"year":  2024,
					"url":   "https://example.org/p1",
					"venue": "ICML",
					"authors": []map[string]string{
						{"name": "Ada Lovelace"},
						{"name": "Alan Turing"},
					},
				},
				{"title": ""}, // untitled results are skipped
			},
		})
	}))
	defer srv.Close()

	s := NewSemanticScholarWithBaseURL("", srv.URL)
	items, err := s.Search(context.Background(), "llm adoption", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	it := items[0]
	if it.Title != "LLMs in Small Firms" || it.Year != 2024 || it.Venue != "ICML" {
		t.Errorf("unexpected item: %+v", it)
	}
	if len(it.Authors) != 2 || it.Authors[0] != "Ada Lovelace" {
		t.Errorf("unexpected authors: %v", it.Authors)
	}
}

func TestSemanticScholar_EmptyQuery(t *testing.T) {
	s := NewSemanticScholarWithBaseURL("", "http://unused")
	items, err := s.Search(context.Background(), "   ", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if items != nil {
		t.Errorf("got %v, want nil without upstream call", items)
	}
}

func TestSemanticScholar_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSemanticScholarWithBaseURL("", srv.URL)
	if _, err := s.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

const atomFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001</id>
    <title>Stablecoin   Shocks
      and DeFi Liquidity</title>
    <published>2024-01-15T00:00:00Z</published>
    <author><name>Satoshi N.</name></author>
    <author><name>Vitalik B.</name></author>
    <link href="http://arxiv.org/abs/2401.00001v1" rel="alternate"/>
  </entry>
</feed>`

func TestArxiv_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("path = %q, want /query", r.URL.Path)
		}
		if got := r.URL.Query().Get("search_query"); got != "all:defi" {
			t.Errorf("search_query = %q", got)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(atomFixture))
	}))
	defer srv.Close()

	a := NewArxivWithBaseURL(srv.URL)
	items, err := a.Search(context.Background(), "defi", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	it := items[0]
	if it.Title != "Stablecoin Shocks and DeFi Liquidity" {
		t.Errorf("Title = %q (whitespace should be collapsed)", it.Title)
	}
	if it.Year != 2024 {
		t.Errorf("Year = %d, want 2024", it.Year)
	}
	if it.URL != "http://arxiv.org/abs/2401.00001v1" {
		t.Errorf("URL = %q, want alternate link", it.URL)
	}
	if it.Venue != "arXiv" {
		t.Errorf("Venue = %q", it.Venue)
	}
}

func TestArxiv_EmptyQuery(t *testing.T) {
	a := NewArxivWithBaseURL("http://unused")
	items, err := a.Search(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if items != nil {
		t.Errorf("got %v, want nil", items)
	}
}
