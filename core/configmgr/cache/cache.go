// Package cache keeps recently used categories in memory.
package cache

import (
	"sync"
	"time"

	"github.com/cordum/edgeconf/core/configmgr/schema"
	"github.com/cordum/edgeconf/core/infra/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSize is the cache capacity when none is configured.
const DefaultMaxSize = 30

// Entry is one cached category.
type Entry struct {
	Value        schema.Items
	Description  string
	DisplayName  string
	DateAccessed time.Time
	Hits         int
}

// Stats are the global hit and miss counters.
type Stats struct {
	Hits   int
	Misses int
}

// Cache is a bounded category cache evicting the least recently accessed
// entry. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, *Entry]
	maxSize  int
	stats    Stats
	removing bool
	metrics  metrics.ConfigMetrics
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics mirrors hits, misses and evictions into m.
func WithMetrics(m metrics.ConfigMetrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New builds a cache holding at most maxSize categories.
func New(maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		maxSize: maxSize,
		metrics: metrics.Noop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	entries, _ := lru.NewWithEvict[string, *Entry](maxSize, func(string, *Entry) {
		if !c.removing {
			c.metrics.IncCacheEviction()
		}
	})
	c.entries = entries
	return c
}

// Contains reports whether name is cached. A hit refreshes the entry's
// access time.
func (c *Cache) Contains(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(name)
	if !ok {
		c.stats.Misses++
		c.metrics.IncCacheMiss()
		return false
	}
	entry.DateAccessed = c.now()
	entry.Hits++
	c.stats.Hits++
	c.metrics.IncCacheHit()
	return true
}

// Get returns a copy of the entry for name without touching the counters.
func (c *Cache) Get(name string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Peek(name)
	if !ok {
		return Entry{}, false
	}
	out := *entry
	out.Value = entry.Value.Clone()
	return out, true
}

// Update inserts or replaces name. Inserting into a full cache evicts the
// least recently accessed entry first. An empty displayName keeps the
// cached one, or falls back to name.
func (c *Cache) Update(name, description string, value schema.Items, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hits := 0
	if prev, ok := c.entries.Peek(name); ok {
		hits = prev.Hits
		if displayName == "" {
			displayName = prev.DisplayName
		}
	}
	if displayName == "" {
		displayName = name
	}
	c.entries.Add(name, &Entry{
		Value:        value.Clone(),
		Description:  description,
		DisplayName:  displayName,
		DateAccessed: c.now(),
		Hits:         hits,
	})
}

// Remove drops name if present.
func (c *Cache) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removing = true
	c.entries.Remove(name)
	c.removing = false
}

// Len is the number of cached categories.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// MaxSize is the current capacity.
func (c *Cache) MaxSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// Resize changes the capacity, evicting the oldest entries if it shrinks.
// It returns the number of evicted entries.
func (c *Cache) Resize(maxSize int) int {
	if maxSize <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	return c.entries.Resize(maxSize)
}

// Stats returns the global counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Keys lists cached names from oldest to newest access.
func (c *Cache) Keys() []string {
	return c.entries.Keys()
}
