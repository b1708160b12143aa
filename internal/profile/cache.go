package profile

import "sync"

// Cache holds the last known profile per user. Implementations must be safe
// for concurrent use and must not perform I/O while holding their lock.
type Cache interface {
	Load(userID string) (Profile, bool)

	// Modify atomically replaces the entry for userID with fn's result.
	// fn receives the current entry; returning keep=false removes it.
	Modify(userID string, fn func(cur Profile, ok bool) (next Profile, keep bool))
}

// mapCache is a single mutex-guarded map. Entries are never evicted.
type mapCache struct {
	mu sync.Mutex
	m  map[string]Profile
}

// NewMapCache returns an empty unbounded cache.
func NewMapCache() Cache {
	return &mapCache{m: make(map[string]Profile)}
}

func (c *mapCache) Load(userID string) (Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.m[userID]
	return p, ok
}

func (c *mapCache) Modify(userID string, fn func(cur Profile, ok bool) (Profile, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.m[userID]
	next, keep := fn(cur, ok)
	if keep {
		c.m[userID] = next
	} else {
		delete(c.m, userID)
	}
}

