package subscription

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache defaults, matching the staleness the rest of the platform tolerates
const (
	DefaultCacheSize   = 1000
	DefaultPositiveTTL = 60 * time.Second
	DefaultNegativeTTL = 30 * time.Second
)

// CacheOptions configures Cache. Zero values fall back to the defaults.
type CacheOptions struct {
	Size        int
	PositiveTTL time.Duration
	NegativeTTL time.Duration
	Now         func() time.Time
}

type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

// Cache is a fixed-capacity LRU of subscriber answers keyed by user id.
// Entries expire after PositiveTTL (true) or NegativeTTL (false) and can be dropped early with Invalidate.
// Every Invalidate or Purge advances a generation so lookups started before it cannot be stored after it.
type Cache struct {
	mu          sync.Mutex
	generation  uint64
	lru         *expirable.LRU[string, cacheEntry]
	positiveTTL time.Duration
	negativeTTL time.Duration
	now         func() time.Time
}

// NewCache returns an empty Cache
func NewCache(option CacheOptions) *Cache {
	if option.Size <= 0 {
		option.Size = DefaultCacheSize
	}
	if option.PositiveTTL <= 0 {
		option.PositiveTTL = DefaultPositiveTTL
	}
	if option.NegativeTTL <= 0 {
		option.NegativeTTL = DefaultNegativeTTL
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	// the LRU's own TTL is only a backstop for the wall clock, per-entry expiry uses option.Now
	maxTTL := option.PositiveTTL
	if option.NegativeTTL > maxTTL {
		maxTTL = option.NegativeTTL
	}
	return &Cache{
		lru:         expirable.NewLRU[string, cacheEntry](option.Size, nil, maxTTL),
		positiveTTL: option.PositiveTTL,
		negativeTTL: option.NegativeTTL,
		now:         option.Now,
	}
}

// Get returns the cached answer for userID, ok is false on miss or expiry
func (c *Cache) Get(userID string) (value bool, ok bool) {
	entry, found := c.lru.Get(userID)
	if !found {
		return false, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.lru.Remove(userID)
		return false, false
	}
	return entry.value, true
}

// Generation returns the current invalidation generation, read it before loading an answer
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Set stores the answer for userID
func (c *Cache) Set(userID string, value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(userID, value)
}

// SetIfCurrent stores the answer only if nothing was invalidated since generation was read.
// It reports whether the answer was stored.
func (c *Cache) SetIfCurrent(userID string, value bool, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false
	}
	c.add(userID, value)
	return true
}

func (c *Cache) add(userID string, value bool) {
	ttl := c.negativeTTL
	if value {
		ttl = c.positiveTTL
	}
	c.lru.Add(userID, cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	})
}

// Invalidate drops the cached answer for userID
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Remove(userID)
}

// Purge drops every cached answer
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Purge()
}

// Len returns the number of cached answers, including ones not yet swept
func (c *Cache) Len() int {
	return c.lru.Len()
}
