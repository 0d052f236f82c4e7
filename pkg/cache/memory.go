package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// minEpochEntries is the smallest number of per-key epochs a MemoryCache tracks
const minEpochEntries = 64

// MemoryCache is an in-process Cache backed by an expirable LRU.
// It is suitable for a single engine instance and for tests.
//
// Epochs come from one monotonic clock and are kept in a second bounded LRU.
// A key whose epoch was dropped reports floor, the highest epoch ever dropped,
// so a writer holding an older epoch is still fenced off.
type MemoryCache[V any] struct {
	mu     sync.Mutex
	values *lru.LRU[string, V]
	epochs *simplelru.LRU[string, uint64]
	clock  uint64
	floor  uint64
	stats  counters
}

// NewMemoryCache creates a cache holding at most size entries for ttl each
func NewMemoryCache[V any](size int, ttl time.Duration) *MemoryCache[V] {
	if size < 1 {
		size = 1
	}
	c := &MemoryCache[V]{values: lru.NewLRU[string, V](size, nil, ttl)}
	// simplelru only fails for a non-positive size
	c.epochs, _ = simplelru.NewLRU[string, uint64](max(4*size, minEpochEntries), func(_ string, epoch uint64) {
		if epoch > c.floor {
			c.floor = epoch
		}
	})
	return c
}

// epochOf must be called with mu held
func (c *MemoryCache[V]) epochOf(key string) uint64 {
	if epoch, ok := c.epochs.Get(key); ok {
		return epoch
	}
	return c.floor
}

// Get retrieves a cached value
func (c *MemoryCache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if key == "" {
		return zero, ErrInvalidKey
	}
	value, ok := c.values.Get(key)
	c.stats.recordLookup(ok)
	if !ok {
		return zero, ErrCacheMiss
	}
	return value, nil
}

// Epoch returns the current epoch of key
func (c *MemoryCache[V]) Epoch(ctx context.Context, key string) (uint64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochOf(key), nil
}

// Set stores value unless key was evicted after epoch was read
func (c *MemoryCache[V]) Set(ctx context.Context, key string, epoch uint64, value V) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochOf(key) != epoch {
		c.stats.staleWrites.Add(1)
		return false, nil
	}
	c.values.Add(key, value)
	return true, nil
}

// Evict removes key and advances its epoch
func (c *MemoryCache[V]) Evict(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values.Remove(key)
	c.clock++
	c.epochs.Add(key, c.clock)
	c.stats.evictions.Add(1)
	return nil
}

// Len returns the number of live entries
func (c *MemoryCache[V]) Len() int {
	return c.values.Len()
}

// Stats returns cache statistics
func (c *MemoryCache[V]) Stats() Stats {
	return c.stats.snapshot()
}

// Purge drops every entry and advances every epoch
func (c *MemoryCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values.Purge()
	c.epochs.Purge()
	c.clock++
	c.floor = c.clock
}
