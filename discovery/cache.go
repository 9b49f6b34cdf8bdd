package discovery

import (
	"sync"
	"time"
)

// targetsEntry holds a cached target list with its creation timestamp.
type targetsEntry struct {
	targets   []TargetInfo
	createdAt time.Time
}

// Cache is a short-lived cache over GetTargets results, so repeated
// resolution of the same discovery pattern within a polling window does not
// hammer the HTTP surface. Safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	entry *targetsEntry
	ttl   time.Duration
}

// NewCache creates a Cache that serves GetTargets results for up to ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get returns the cached target list if present and younger than the TTL.
func (c *Cache) Get() ([]TargetInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return nil, false
	}
	if time.Since(c.entry.createdAt) > c.ttl {
		return nil, false
	}
	return c.entry.targets, true
}

// Set stores a fresh target list.
func (c *Cache) Set(targets []TargetInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &targetsEntry{targets: targets, createdAt: time.Now()}
}

// Invalidate drops the cached entry, forcing the next Get to miss.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}
