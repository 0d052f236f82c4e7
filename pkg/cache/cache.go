package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// FlightTimeout bounds a recompute shared by concurrent callers. The shared
// work runs detached from any one caller's cancellation.
const FlightTimeout = 30 * time.Second

// Cache is an invalidation-capable cache of derived values.
//
// Every key carries an epoch that Evict advances. A writer reads the epoch
// before computing a value and passes it to Set; Set stores nothing if an
// eviction happened in between, so a slow recompute can never overwrite a
// fresher invalidation with stale data.
type Cache[V any] interface {
	// Get returns the cached value or ErrCacheMiss
	Get(ctx context.Context, key string) (V, error)

	// Epoch returns the current epoch of key
	Epoch(ctx context.Context, key string) (uint64, error)

	// Set stores value if key's epoch still equals epoch and reports whether it did
	Set(ctx context.Context, key string, epoch uint64, value V) (bool, error)

	// Evict removes key and advances its epoch
	Evict(ctx context.Context, key string) error

	// Stats returns hit and miss counters
	Stats() Stats
}

// Stats holds cache statistics
type Stats struct {
	Hits        int64
	Misses      int64
	StaleWrites int64
	Evictions   int64
	HitRate     float64
}

// Key joins a namespace and IDs into a cache key, e.g. Key("perm", 1, 42) = "perm:1:42"
func Key(namespace string, ids ...int64) string {
	key := namespace
	for _, id := range ids {
		key += fmt.Sprintf(":%d", id)
	}
	return key
}

// counters tracks cache statistics
type counters struct {
	hits        atomic.Int64
	misses      atomic.Int64
	staleWrites atomic.Int64
	evictions   atomic.Int64
}

func (c *counters) recordLookup(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	stats := Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		StaleWrites: c.staleWrites.Load(),
		Evictions:   c.evictions.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
