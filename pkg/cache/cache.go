// Package cache provides a small threadsafe LRU with per-entry TTL.
// Expired entries are dropped lazily on access.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Stats holds cache statistics.
type Stats struct {
	Hits     int64
	Misses   int64
	Size     int
	Capacity int
}

// Cache is a threadsafe LRU with TTL support.
type Cache struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[string]*list.Element
	capacity int
	ttl      time.Duration
	hits     int64
	misses   int64
	now      func() time.Time
}

type entry struct {
	key    string
	value  any
	expire time.Time
}

// New returns a cache with the given capacity and ttl. A non-positive
// capacity defaults to 1024; a non-positive ttl disables expiry.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache{
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get retrieves a value if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := ele.Value.(*entry)
	if c.ttl > 0 && c.now().After(ent.expire) {
		c.remove(ele)
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(ele)
	c.hits++
	return ent.value, true
}

// Set inserts or updates an entry, evicting the oldest at capacity.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.ll.MoveToFront(ele)
		ent := ele.Value.(*entry)
		ent.value = value
		if c.ttl > 0 {
			ent.expire = c.now().Add(c.ttl)
		}
		return
	}
	if c.ll.Len() >= c.capacity {
		if oldest := c.ll.Back(); oldest != nil {
			c.remove(oldest)
		}
	}
	ent := &entry{key: key, value: value}
	if c.ttl > 0 {
		ent.expire = c.now().Add(c.ttl)
	}
	c.items[key] = c.ll.PushFront(ent)
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.remove(ele)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.items = make(map[string]*list.Element)
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: c.ll.Len(), Capacity: c.capacity}
}

func (c *Cache) remove(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.items, ele.Value.(*entry).key)
}
