package embed

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultCacheCapacity bounds the number of cached vectors.
	DefaultCacheCapacity = 1000

	// DefaultCacheTTL is how long a cached vector stays valid.
	DefaultCacheTTL = time.Hour
)

// Cache is a bounded TTL cache for embedding vectors with LRU eviction.
// Keys are the exact input texts.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	// now is swappable in tests to control expiry.
	now func() time.Time
}

type cacheEntry struct {
	key       string
	vector    []float32
	expiresAt time.Time
}

// NewCache creates a cache. Non-positive capacity or TTL falls back to the
// defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached vector for key. Expired entries are removed and
// reported as misses.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}

	c.order.MoveToFront(elem)
	return entry.vector, true
}

// Put stores a vector under key, refreshing TTL and recency for existing
// keys. The least recently used entry is evicted at capacity.
func (c *Cache) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.vector = vector
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		vector:    vector,
		expiresAt: c.now().Add(c.ttl),
	})
	c.entries[key] = elem
}

// Len returns the number of live entries, counting not-yet-collected expired
// ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
