package keys

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *tickingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_PutGet(t *testing.T) {
	c := NewCache()
	c.Put(KEMKeyPrefix+"user-1", "keypair", time.Hour)

	assert.Equal(t, "keypair", c.Get(KEMKeyPrefix+"user-1"))
	assert.Nil(t, c.Get(KEMKeyPrefix+"user-2"))
	assert.Equal(t, 1, c.Size())
}

func TestCache_LazyExpiry(t *testing.T) {
	clock := newTickingClock()
	c := NewCache(WithClock(clock.Now))

	c.Put("k", "v", time.Hour)
	clock.Advance(61 * time.Minute)

	assert.Nil(t, c.Get("k"), "expired entry dropped on access")
	assert.Equal(t, 0, c.Size())
}

func TestCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newTickingClock()
	c := NewCache(WithMaxSize(2), WithClock(clock.Now))

	c.Put("a", 1, time.Hour)
	clock.Advance(time.Second)
	c.Put("b", 2, time.Hour)
	clock.Advance(time.Second)

	// Touch "a" so "b" becomes the eviction candidate.
	c.Get("a")
	clock.Advance(time.Second)

	c.Put("c", 3, time.Hour)

	assert.Equal(t, 1, c.Get("a"))
	assert.Nil(t, c.Get("b"))
	assert.Equal(t, 3, c.Get("c"))
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := NewCache(WithMaxSize(2))
	c.Put("a", 1, time.Hour)
	c.Put("b", 2, time.Hour)
	c.Put("a", 10, time.Hour)

	assert.Equal(t, 10, c.Get("a"))
	assert.Equal(t, 2, c.Get("b"))
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	c.Put("a", 1, time.Hour)
	c.Put("b", 2, time.Hour)

	c.Clear()
	assert.Equal(t, 0, c.Size())
	assert.Nil(t, c.Get("a"))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache(WithMaxSize(16))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			for range 100 {
				c.Put(key, n, time.Hour)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 16)
}
