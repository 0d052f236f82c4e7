// Package cache provides epoch-guarded caches for derived authorization state.
//
// Readers follow a read-epoch, compute, conditional-set protocol:
//
//	epoch, _ := c.Epoch(ctx, key)
//	value := compute()
//	c.Set(ctx, key, epoch, value) // dropped if Evict ran meanwhile
//
// MemoryCache keeps entries in an expirable LRU inside the process.
// RedisCache shares entries between instances; Set is a Lua compare-and-set
// and Evict pipelines DEL and INCR of the epoch counter in a MULTI block.
package cache
