// Package keys provides a TTL-bounded cache for per-user key material.
// Both providers compose it so repeated operations for the same user reuse
// keypairs instead of regenerating them on every call.
package keys

import (
	"sync"
	"time"
)

// Cache key prefixes. One keypair of each kind is cached per user.
const (
	KEMKeyPrefix     = "kem_"
	SigningKeyPrefix = "sig_"
)

type entry struct {
	value      any
	expiresAt  time.Time
	accessedAt time.Time
}

// Cache is a thread-safe key cache with per-entry TTL and a size cap.
// Expired entries are dropped lazily on access; when the cache is full the
// least-recently-accessed entry is evicted. Injectable, never a
// package-level singleton, so tests get clean instances.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxSize caps the number of cached keys.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache creates an empty cache. Default capacity is 100 keys.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		maxSize: 100,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value, or nil if absent or expired. Expired
// entries are removed on the way out.
func (c *Cache) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	e.accessedAt = c.now()
	return e.value
}

// Put stores a value with a TTL, evicting the least-recently-accessed entry
// if the cache is full.
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.now()
	c.entries[key] = &entry{
		value:      value,
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}
}

// Remove deletes a key if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops all cached keys. Used on administrative key rotation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Size returns the number of cached entries, including not-yet-swept
// expired ones.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the least-recently-accessed entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.accessedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.accessedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
