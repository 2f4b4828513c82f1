package cache

import "time"

// LayeredCache checks a process-local layer before a shared remote layer
type LayeredCache struct {
	memory Cache
	remote Cache
}

// NewLayeredCache creates a memory + remote cache. A nil remote yields the
// memory layer alone.
func NewLayeredCache(memoryTTL time.Duration, remote Cache) Cache {
	memory := NewMemoryCache(memoryTTL, 10*time.Minute)
	if remote == nil {
		return memory
	}
	return &LayeredCache{memory: memory, remote: remote}
}

// Get retrieves a value (memory first, then remote)
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	if val, found := c.remote.Get(key); found {
		// Promote with the memory layer's default TTL
		_ = c.memory.Set(key, val, 0)
		return val, true
	}

	return nil, false
}

// Set stores a value in both layers. A remote failure is returned after the
// memory layer has been written.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.remote.Set(key, value, ttl)
}

// Delete removes a value from both layers
func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	return c.remote.Delete(key)
}

// Clear removes all values from both layers
func (c *LayeredCache) Clear() error {
	_ = c.memory.Clear()
	return c.remote.Clear()
}
