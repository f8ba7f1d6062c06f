package gateway

import (
	"container/list"
	"sync"
	"time"

	"github.com/user/shopline/internal/clock"
	"github.com/user/shopline/internal/metrics"
)

// Cache defaults.
const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultCacheCapacity = 1000
)

// CacheKey identifies a reply: the same message with the same request
// context on the same conversation.
type CacheKey struct {
	ConversationID string
	Message        string
	Context        string
}

type cacheEntry struct {
	key       CacheKey
	reply     string
	createdAt time.Time
	hits      int
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Cache is a TTL-bounded reply cache that evicts the oldest-inserted entry
// when full.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[CacheKey]*list.Element
	order    *list.List // front is oldest
	hits     int64
	misses   int64
	clock    clock.Clock
	metrics  *metrics.Metrics
}

// NewCache creates a cache. Non-positive ttl or capacity take the defaults.
func NewCache(ttl time.Duration, capacity int, c clock.Clock, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if c == nil {
		c = clock.Real{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[CacheKey]*list.Element),
		order:    list.New(),
		clock:    c,
		metrics:  m,
	}
}

// Get returns the cached reply for key. Expired entries are removed and
// reported as a miss.
func (c *Cache) Get(key CacheKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.miss()
		return "", false
	}
	e := el.Value.(*cacheEntry)
	if c.clock.Now().Sub(e.createdAt) > c.ttl {
		c.remove(el)
		c.metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		c.miss()
		return "", false
	}
	e.hits++
	c.hits++
	c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.reply, true
}

// Put stores reply under key. Storing an existing key refreshes it; a new
// key at capacity evicts the oldest entry first.
func (c *Cache) Put(key CacheKey, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.remove(el)
	} else if c.order.Len() >= c.capacity {
		if oldest := c.order.Front(); oldest != nil {
			c.remove(oldest)
			c.metrics.CacheEvictions.WithLabelValues("capacity").Inc()
		}
	}
	c.entries[key] = c.order.PushBack(&cacheEntry{
		key:       key,
		reply:     reply,
		createdAt: c.clock.Now(),
	})
}

// Purge removes every expired entry and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.Sub(el.Value.(*cacheEntry).createdAt) > c.ttl {
			c.remove(el)
			n++
		}
		el = next
	}
	if n > 0 {
		c.metrics.CacheEvictions.WithLabelValues("ttl").Add(float64(n))
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Size: c.order.Len(), Hits: c.hits, Misses: c.misses}
}

func (c *Cache) miss() {
	c.misses++
	c.metrics.CacheLookups.WithLabelValues("miss").Inc()
}

func (c *Cache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}
