// Package memory provides an in-process TTL cache for single-instance
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Cache implements tracker.Cache in memory. Expired entries are dropped
// lazily on access.
type Cache struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]entry
}

// New constructs a Cache. A nil clock uses the wall clock.
func New(clock Clock) *Cache {
	if clock == nil {
		clock = systemClock{}
	}
	return &Cache{clock: clock, entries: make(map[string]entry)}
}

// Get returns a copy of the value stored under key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores value under key. A ttl of zero or less never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.newEntry(value, ttl)
	return nil
}

// AddIfAbsent stores value only when key holds no live entry.
func (c *Cache) AddIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.entries[key] = c.newEntry(value, ttl)
	return true, nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// lookup must be called with mu held.
func (c *Cache) lookup(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(c.clock.Now()) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.clock.Now().Add(ttl)
	}
	return e
}
