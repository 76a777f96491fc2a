package cache

import (
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTTL is used by Set when no positive TTL is given.
const DefaultTTL = 15 * time.Minute

// entry is a stored value and the instant it stops being visible.
type entry struct {
	value     any
	expiresAt time.Time
}

// Cache maps string keys to values with an absolute expiry.
type Cache struct {
	clock      clock.Clock
	defaultTTL time.Duration
	entries    map[string]entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source. Tests use clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) {
		cache.clock = c
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(cache *Cache) {
		if ttl > 0 {
			cache.defaultTTL = ttl
		}
	}
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		clock:      clock.New(),
		defaultTTL: DefaultTTL,
		entries:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key, or def when the key is absent
// or expired. An expired entry is deleted as a side effect.
func (c *Cache) Get(key string, def any) any {
	e, ok := c.entries[key]
	if !ok {
		return def
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return def
	}
	return e.value
}

// Set stores value under key until now+ttl, replacing any existing entry,
// and returns value. A non-positive ttl selects the default TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) any {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.entries[key] = entry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return value
}

// Len returns the number of stored entries, including expired ones that
// have not been read since expiring.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Lookup is a typed Get. A stored value of another type is reported as def.
func Lookup[T any](c *Cache, key string, def T) T {
	v, ok := c.Get(key, def).(T)
	if !ok {
		return def
	}
	return v
}
