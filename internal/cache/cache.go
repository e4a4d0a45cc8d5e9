// Package cache provides a fixed-capacity, TTL-aware LRU price cache used to
// deduplicate on-demand REST price lookups for price types the streaming
// feeds do not cover.
package cache

import (
	"sync"
	"time"
)

// Key identifies a cached price by provider and provider-specific symbol.
type Key struct {
	Source string
	Symbol string
}

type entry struct {
	value      float64
	insertedAt time.Time
	lastAccess time.Time
}

// Stats are cumulative for the process lifetime. They are diagnostic only
// and drive no control decision.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is a capacity-bounded map with least-recently-accessed eviction and
// lazy TTL expiry. Eviction scans linearly; capacity is on the order of a
// thousand entries so the scan is not worth a heap.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	entries   map[Key]*entry
	hits      uint64
	misses    uint64
	evictions uint64
	now       func() time.Time
}

func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[Key]*entry, capacity),
		now:      time.Now,
	}
}

// Get returns the cached value for k. An entry past its TTL counts as a miss
// and is removed on the spot; there is no background sweep.
func (c *Cache) Get(k Key) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		c.misses++
		return 0, false
	}

	now := c.now()
	if now.Sub(e.insertedAt) > c.ttl {
		delete(c.entries, k)
		c.misses++
		return 0, false
	}

	e.lastAccess = now
	c.hits++
	return e.value, true
}

// Set stores a value, evicting the globally least-recently-accessed entry
// when inserting a new key at capacity.
func (c *Cache) Set(k Key, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[k]; ok {
		e.value = value
		e.insertedAt = now
		e.lastAccess = now
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[k] = &entry{value: value, insertedAt: now, lastAccess: now}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey Key
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.lastAccess.Before(oldest) {
			oldestKey = k
			oldest = e.lastAccess
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// GetStats returns cumulative cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
