package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache for tests and single-node setups.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	windows map[string]rateWindow

	// now is swappable in tests.
	now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type rateWindow struct {
	count     int
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		windows: make(map[string]rateWindow),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *MemoryCache) RateLimit(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || now.After(w.expiresAt) {
		w = rateWindow{expiresAt: now.Add(window)}
	}
	w.count++
	c.windows[key] = w

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{Allowed: w.count <= limit, Remaining: remaining}, nil
}

func (c *MemoryCache) Keys(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var n int64
	for _, entry := range c.entries {
		if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryCache) Reset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]memoryEntry)
	c.windows = make(map[string]rateWindow)
	return nil
}

func (c *MemoryCache) Close() error {
	return nil
}
