// Package cache decorates a source catalog with an in-memory LRU cache.
package cache

import (
	"context"
	"sync"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/observability"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

// Catalog wraps a pipeline.Catalog with an LRU cache keyed by query.
type Catalog struct {
	inner   pipeline.Catalog
	cache   *lruCache[domain.Collection]
	metrics *observability.Metrics
}

// NewCatalog creates a cache decorator holding up to maxEntries collections.
func NewCatalog(inner pipeline.Catalog, maxEntries int, metrics *observability.Metrics) *Catalog {
	return &Catalog{
		inner:   inner,
		cache:   newLRUCache[domain.Collection](maxEntries),
		metrics: metrics,
	}
}

// Collection serves q from the cache or the wrapped catalog. Cached
// collections are shared between callers and must not be mutated.
func (c *Catalog) Collection(ctx context.Context, q domain.Query) (domain.Collection, error) {
	key := q.Key()
	if coll, ok := c.cache.get(key); ok {
		c.metrics.CatalogCache.WithLabelValues("hit").Inc()
		return coll, nil
	}
	c.metrics.CatalogCache.WithLabelValues("miss").Inc()

	coll, err := c.inner.Collection(ctx, q)
	if err != nil {
		return coll, err
	}
	// Only cache non-empty reads so data arriving later is picked up.
	if len(coll.Images) > 0 {
		c.cache.put(key, coll)
	}
	return coll, nil
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
