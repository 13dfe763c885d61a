// Package library ingests reference documents, embeds their chunks and
// serves similarity search over them.
package library

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/planforge/planforge/internal/storage"
)

const embedConcurrency = 4

// Store is the persistence surface the library needs.
type Store interface {
	SaveLibraryDocument(d storage.LibraryDocument) error
	LibraryDocumentByHash(hash string) (storage.LibraryDocument, error)
	ListLibraryDocuments(limit int) ([]storage.LibraryDocument, error)
	SaveLibraryVector(v storage.LibraryVector) error
	AllLibraryVectors() ([]storage.LibraryVector, error)
}

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Library coordinates ingestion and retrieval of reference documents.
type Library struct {
	store      Store
	embedder   Embedder
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Library. The embedder may be nil; documents are then
// stored without vectors and excluded from similarity search.
func New(store Store, embedder Embedder) *Library {
	return &Library{
		store:      store,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
}

// Document summarizes an ingested document.
type Document struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// IngestText chunks, embeds and stores raw text under the given title.
func (l *Library) IngestText(ctx context.Context, title, text string) (Document, error) {
	return l.ingest(ctx, title, text, "text")
}

// IngestURL fetches a web page, strips markup and ingests the text.
func (l *Library) IngestURL(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("building request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	title, text, err := extractHTML(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", url, err)
	}
	if title == "" {
		title = url
	}
	return l.ingest(ctx, title, text, "url")
}

// IngestPDF extracts plain text from a PDF and ingests it.
func (l *Library) IngestPDF(ctx context.Context, title string, r io.ReaderAt, size int64) (Document, error) {
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return Document{}, fmt.Errorf("opening pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			l.logger.Warn("pdf page extraction failed", "page", i, "error", err)
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return l.ingest(ctx, title, b.String(), "pdf")
}

func (l *Library) ingest(ctx context.Context, title, text, source string) (Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Document{}, fmt.Errorf("library: empty document")
	}
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}

	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	if existing, err := l.store.LibraryDocumentByHash(hash); err == nil {
		return Document{ID: existing.ID, Title: existing.Title, Source: existing.Source, Chunks: existing.Chunks}, nil
	}

	chunks := splitChunks(text)
	docID := uuid.NewString()

	embeddings := make([][]float32, len(chunks))
	if l.embedder != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(embedConcurrency)
		for i, chunk := range chunks {
			g.Go(func() error {
				vec, err := l.embedder.Embed(gctx, chunk)
				if err != nil {
					return err
				}
				embeddings[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// Document is still stored; chunks stay unembedded and are
			// invisible to search until re-ingested.
			l.logger.Warn("embedding failed, storing without vectors", "error", err)
			embeddings = make([][]float32, len(chunks))
		}
	}

	if err := l.store.SaveLibraryDocument(storage.LibraryDocument{
		ID:          docID,
		Title:       title,
		Source:      source,
		ContentHash: hash,
		Chunks:      len(chunks),
		CreatedAt:   time.Now(),
	}); err != nil {
		return Document{}, fmt.Errorf("saving document: %w", err)
	}
	for i, chunk := range chunks {
		err := l.store.SaveLibraryVector(storage.LibraryVector{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Seq:        i,
			Content:    chunk,
			Embedding:  embeddings[i],
		})
		if err != nil {
			return Document{}, fmt.Errorf("saving chunk %d: %w", i, err)
		}
	}

	return Document{ID: docID, Title: title, Source: source, Chunks: len(chunks)}, nil
}

// Hit is one similarity search result.
type Hit struct {
	DocumentID string  `json:"documentId"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Search embeds the query and returns the topK most similar chunks by
// brute-force cosine similarity. Without an embedder it returns nil.
func (l *Library) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" || l.embedder == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryNorm := norm(queryVec)
	if queryNorm == 0 {
		return nil, nil
	}

	vectors, err := l.store.AllLibraryVectors()
	if err != nil {
		return nil, fmt.Errorf("loading vectors: %w", err)
	}

	hits := make([]Hit, 0, len(vectors))
	for _, v := range vectors {
		score := cosine(queryVec, v.Embedding, queryNorm)
		hits = append(hits, Hit{DocumentID: v.DocumentID, Content: v.Content, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Documents lists recently ingested documents.
func (l *Library) Documents(limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	docs, err := l.store.ListLibraryDocuments(limit)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, Document{ID: d.ID, Title: d.Title, Source: d.Source, Chunks: d.Chunks})
	}
	return out, nil
}

// extractHTML returns the page title and visible text of an HTML document.
func extractHTML(r io.Reader) (title, text string, err error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var b bytes.Buffer
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return title, b.String(), nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is precomputed.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 || aNorm == 0 {
		return 0
	}
	return dot / (aNorm * bNorm)
}
