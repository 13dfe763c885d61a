// Package evidence memoizes literature retrieval over a primary/secondary
// source pair with a TTL cache and a single-retry fallback chain.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/planforge/planforge/internal/scholarly"
)

const (
	defaultTTL     = 5 * time.Minute
	defaultBackoff = 400 * time.Millisecond

	minLimit = 1
	maxLimit = 10
)

// SourceName identifies which retrieval source satisfied a query.
type SourceName string

const (
	SourcePrimary   SourceName = "primary"
	SourceSecondary SourceName = "secondary"
	SourceNone      SourceName = "none"
)

// Result is the outcome of one Search call.
type Result struct {
	Items     []scholarly.Item `json:"items"`
	Source    SourceName       `json:"source"`
	LatencyMs int64            `json:"latencyMs"`
}

type cacheEntry struct {
	items  []scholarly.Item
	source SourceName
	expiry time.Time
}

// Cache wraps two scholarly sources with TTL memoization. Lookups never
// return an error: source failures degrade to an empty result with
// Source = none, and empty results are cached like any other so repeated
// misses do not hammer upstream.
//
// Concurrent first lookups for the same key may each call upstream; the
// last writer wins. Results are idempotent and read-only, so this race is
// accepted rather than serialized.
type Cache struct {
	primary   scholarly.Source
	secondary scholarly.Source
	ttl       time.Duration
	backoff   time.Duration
	now       func() time.Time
	sleep     func(context.Context, time.Duration)

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default 5-minute entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithBackoff overrides the pause before the single primary retry.
func WithBackoff(d time.Duration) Option {
	return func(c *Cache) { c.backoff = d }
}

// WithClock overrides time functions (used by tests).
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) Option {
	return func(c *Cache) {
		c.now = now
		c.sleep = sleep
	}
}

// NewCache creates a Cache over the given primary and secondary sources.
func NewCache(primary, secondary scholarly.Source, opts ...Option) *Cache {
	c := &Cache{
		primary:   primary,
		secondary: secondary,
		ttl:       defaultTTL,
		backoff:   defaultBackoff,
		now:       time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns literature items for the query. The query is trimmed; an
// empty query returns immediately without touching upstream. Limit is
// clamped to [1,10]. A live cache hit returns with LatencyMs = 0.
//
// On a miss the primary source is tried, retried once after a short backoff
// if it returned nothing, then the secondary source. Errors from either
// source are treated as empty results.
func (c *Cache) Search(ctx context.Context, query string, limit int) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Items: []scholarly.Item{}, Source: SourceNone}
	}
	if limit < minLimit {
		limit = minLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	key := fmt.Sprintf("%s\x00%d", query, limit)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.expiry.After(now) {
			c.mu.Unlock()
			return Result{Items: e.items, Source: e.source, LatencyMs: 0}
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	started := c.now()
	items, source := c.fetch(ctx, query, limit)
	latency := c.now().Sub(started).Milliseconds()

	c.mu.Lock()
	c.entries[key] = cacheEntry{items: items, source: source, expiry: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return Result{Items: items, Source: source, LatencyMs: latency}
}

func (c *Cache) fetch(ctx context.Context, query string, limit int) ([]scholarly.Item, SourceName) {
	items := c.trySource(ctx, c.primary, query, limit)
	if len(items) == 0 {
		c.sleep(ctx, c.backoff)
		items = c.trySource(ctx, c.primary, query, limit)
	}
	if len(items) > 0 {
		return items, SourcePrimary
	}

	items = c.trySource(ctx, c.secondary, query, limit)
	if len(items) > 0 {
		return items, SourceSecondary
	}
	return []scholarly.Item{}, SourceNone
}

func (c *Cache) trySource(ctx context.Context, src scholarly.Source, query string, limit int) []scholarly.Item {
	if src == nil {
		return nil
	}
	items, err := src.Search(ctx, query, limit)
	if err != nil {
		slog.Debug("evidence: source failed", "error", err)
		return nil
	}
	return items
}
