package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vecbench/resource"
)

// Stats reports cache effectiveness.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Len       int   `json:"len"`
}

// Option configures an LRU.
type Option[K comparable, V any] func(*LRU[K, V])

// WithResourceController accounts size(value) bytes per entry against rc.
func WithResourceController[K comparable, V any](rc *resource.Controller, size func(V) int64) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.rc = rc
		c.size = size
	}
}

// LRU is a least-recently-used cache holding at most capacity entries.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int
	items     map[K]*list.Element
	evictList *list.List

	rc   *resource.Controller
	size func(V) int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	bytes int64
}

// New creates an LRU with the given entry capacity. A capacity <= 0 yields a
// cache that stores nothing.
func New[K comparable, V any](capacity int, optFns ...Option[K, V]) *LRU[K, V] {
	c := &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
	}
	for _, fn := range optFns {
		fn(c)
	}
	return c
}

// Get returns the cached value for key and marks it recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set stores value under key, evicting the least recently used entries when
// full. It reports whether the value was stored.
func (c *LRU[K, V]) Set(key K, value V) bool {
	if c.capacity <= 0 {
		return false
	}

	var bytes int64
	if c.size != nil {
		bytes = c.size(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el, false)
	}
	for len(c.items) >= c.capacity {
		c.removeElement(c.evictList.Back(), true)
	}

	// If the global controller denies the memory, don't cache.
	if err := c.rc.AcquireMemory(bytes); err != nil {
		return false
	}

	c.items[key] = c.evictList.PushFront(&entry[K, V]{key: key, value: value, bytes: bytes})
	return true
}

// Remove deletes key from the cache.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el, false)
	}
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.evictList.Back(); el != nil; el = c.evictList.Back() {
		c.removeElement(el, false)
	}
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit, miss and eviction counters.
func (c *LRU[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       c.Len(),
	}
}

func (c *LRU[K, V]) removeElement(el *list.Element, evicted bool) {
	c.evictList.Remove(el)
	e := el.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.rc.ReleaseMemory(e.bytes)
	if evicted {
		c.evictions.Add(1)
	}
}
