package subscription

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCacheSetGet(t *testing.T) {
	c := NewCache(CacheOptions{})

	_, ok := c.Get("u1")
	assert.False(t, ok)

	c.Set("u1", true)
	c.Set("u2", false)

	v, ok := c.Get("u1")
	require.True(t, ok)
	assert.True(t, v)

	v, ok = c.Get("u2")
	require.True(t, ok)
	assert.False(t, v)
}

func TestCachePositiveAndNegativeTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(CacheOptions{Now: clock.Now})

	c.Set("sub", true)
	c.Set("free", false)

	clock.Advance(31 * time.Second)

	_, ok := c.Get("free")
	assert.False(t, ok, "negative answer should expire after 30s")

	v, ok := c.Get("sub")
	require.True(t, ok, "positive answer should survive 31s")
	assert.True(t, v)

	clock.Advance(29 * time.Second)
	_, ok = c.Get("sub")
	assert.False(t, ok, "positive answer should expire at 60s")
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(CacheOptions{})
	c.Set("u1", true)
	c.Invalidate("u1")

	_, ok := c.Get("u1")
	assert.False(t, ok)

	// invalidating an unknown user is a no-op
	c.Invalidate("nobody")
}

func TestCacheCapacity(t *testing.T) {
	c := NewCache(CacheOptions{Size: 3})
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("u%d", i), true)
	}
	assert.Equal(t, 3, c.Len())

	_, ok := c.Get("u0")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("u4")
	assert.True(t, ok)
}

func TestCachePurge(t *testing.T) {
	c := NewCache(CacheOptions{})
	c.Set("a", true)
	c.Set("b", false)
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCacheSetIfCurrent(t *testing.T) {
	c := NewCache(CacheOptions{})

	gen := c.Generation()
	assert.True(t, c.SetIfCurrent("u1", false, gen))
	v, ok := c.Get("u1")
	assert.True(t, ok)
	assert.False(t, v)

	gen = c.Generation()
	c.Invalidate("u1")
	assert.False(t, c.SetIfCurrent("u1", false, gen), "answer loaded before Invalidate is dropped")
	_, ok = c.Get("u1")
	assert.False(t, ok)

	gen = c.Generation()
	c.Purge()
	assert.False(t, c.SetIfCurrent("u2", true, gen))
	assert.True(t, c.SetIfCurrent("u2", true, c.Generation()))
}
