package planner

import (
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"

	"github.com/DeusData/bytecode-query-mcp/internal/query"
)

// DefaultCacheSize is used when a non-positive size is requested.
const DefaultCacheSize = 256

type cacheEntry struct {
	text string
	plan *Plan
}

// Cache compiles query text through a Planner and remembers the result,
// keyed by the xxh3 hash of the text. Plans keep their xref lookups, so a
// cached plan stays cheap to re-run until the index changes; call Purge
// after re-indexing.
type Cache struct {
	planner *Planner
	plans   *lru.Cache[uint64, cacheEntry]
}

// NewCache wraps planner with an LRU of size plans.
func NewCache(planner *Planner, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	plans, err := lru.New[uint64, cacheEntry](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &Cache{planner: planner, plans: plans}
}

// Compile parses and plans text, returning a cached plan when the same text
// was compiled before. Parse errors are returned unwrapped and not cached.
func (c *Cache) Compile(text string) (*Plan, error) {
	key := xxh3.HashString(text)
	if e, ok := c.plans.Get(key); ok && e.text == text {
		slog.Debug("planner.cache.hit", "key", key)
		return e.plan, nil
	}

	q, err := query.Parse(text)
	if err != nil {
		return nil, err
	}
	plan := c.planner.Plan(q)
	c.plans.Add(key, cacheEntry{text: text, plan: plan})
	return plan, nil
}

// Planner returns the underlying planner.
func (c *Cache) Planner() *Planner { return c.planner }

// Len returns the number of cached plans.
func (c *Cache) Len() int { return c.plans.Len() }

// Purge drops every cached plan.
func (c *Cache) Purge() { c.plans.Purge() }
