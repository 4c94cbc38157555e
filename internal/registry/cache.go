package registry

import (
	"container/list"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/Aidin1998/pincex_arbfinder/pkg/metrics"
)

// CacheStats describes the snapshot cache.
type CacheStats struct {
	Size          int        `json:"size"`
	Capacity      int        `json:"capacity"`
	Hits          uint64     `json:"hits"`
	Misses        uint64     `json:"misses"`
	TotalAccesses uint64     `json:"total_accesses"`
	OldestAccess  *time.Time `json:"oldest_access,omitempty"`
	NewestAccess  *time.Time `json:"newest_access,omitempty"`
}

type cacheEntry struct {
	key        Key
	snapshot   orderbook.Snapshot
	lastAccess time.Time
	accesses   uint64
}

// Cache is a bounded snapshot cache for read-mostly consumers. Entries expire
// ttl after their last access and the least recently accessed entry is
// evicted when a new key arrives at capacity. A miss is never an error.
type Cache struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[Key]*list.Element
	lru     *list.List // front is most recently accessed
	hits    uint64
	misses  uint64
}

// NewCache creates a cache. ttl <= 0 disables expiry.
func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

func (c *Cache) Get(key Key) (orderbook.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		metrics.SnapshotCacheRequests.WithLabelValues("miss").Inc()
		return orderbook.Snapshot{}, false
	}
	e := el.Value.(*cacheEntry)
	now := c.now()
	if c.ttl > 0 && now.Sub(e.lastAccess) >= c.ttl {
		c.removeElement(el)
		c.misses++
		metrics.SnapshotCacheRequests.WithLabelValues("miss").Inc()
		return orderbook.Snapshot{}, false
	}
	e.lastAccess = now
	e.accesses++
	c.lru.MoveToFront(el)
	c.hits++
	metrics.SnapshotCacheRequests.WithLabelValues("hit").Inc()
	return e.snapshot, true
}

func (c *Cache) Put(key Key, s orderbook.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry)
		e.snapshot, e.lastAccess = s, now
		e.accesses++
		c.lru.MoveToFront(el)
		return
	}
	if c.capacity > 0 && c.lru.Len() >= c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, snapshot: s, lastAccess: now, accesses: 1})
}

func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*list.Element)
	c.lru.Init()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CacheStats{
		Size:     c.lru.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
	for el := c.lru.Front(); el != nil; el = el.Next() {
		st.TotalAccesses += el.Value.(*cacheEntry).accesses
	}
	if front := c.lru.Front(); front != nil {
		newest := front.Value.(*cacheEntry).lastAccess
		oldest := c.lru.Back().Value.(*cacheEntry).lastAccess
		st.NewestAccess, st.OldestAccess = &newest, &oldest
	}
	return st
}

func (c *Cache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}
