package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// setIfEpoch stores ARGV[2] under KEYS[1] for ARGV[3] ms only while KEYS[2] still holds ARGV[1]
var setIfEpoch = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisOptions configures a Redis client
type RedisOptions struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient parses opts, connects and pings the server
func NewRedisClient(ctx context.Context, o RedisOptions) (*redis.Client, error) {
	opts, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if o.Password != "" {
		opts.Password = o.Password
	}
	if o.DB > 0 {
		opts.DB = o.DB
	}
	if o.PoolSize > 0 {
		opts.PoolSize = o.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisCache is a Cache shared between engine instances.
// Values are JSON encoded; each key has a companion "<key>:epoch" counter.
type RedisCache[V any] struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	epochTTL time.Duration
	stats    counters
}

// NewRedisCache creates a cache storing values under prefix for ttl
func NewRedisCache[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache[V] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	epochTTL := 24 * time.Hour
	if ttl*4 > epochTTL {
		epochTTL = ttl * 4
	}
	return &RedisCache[V]{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		epochTTL: epochTTL,
	}
}

func (c *RedisCache[V]) valueKey(key string) string {
	return c.prefix + key
}

func (c *RedisCache[V]) epochKey(key string) string {
	return c.prefix + key + ":epoch"
}

// Get retrieves and decodes a cached value
func (c *RedisCache[V]) Get(ctx context.Context, key string) (V, error) {
	var value V
	if key == "" {
		return value, ErrInvalidKey
	}

	data, err := c.client.Get(ctx, c.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.stats.recordLookup(false)
		return value, ErrCacheMiss
	} else if err != nil {
		return value, fmt.Errorf("%w: redis get failed: %w", ErrCacheUnavailable, err)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		// Corrupt entries are dropped and reported as a miss
		c.client.Del(ctx, c.valueKey(key))
		c.stats.recordLookup(false)
		return value, ErrCacheMiss
	}

	c.stats.recordLookup(true)
	return value, nil
}

// Epoch returns the current epoch of key; an absent counter is epoch 0
func (c *RedisCache[V]) Epoch(ctx context.Context, key string) (uint64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	raw, err := c.client.Get(ctx, c.epochKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("%w: redis get epoch failed: %w", ErrCacheUnavailable, err)
	}
	epoch, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid epoch %q for %s: %w", raw, key, err)
	}
	return epoch, nil
}

// Set atomically stores value if key's epoch is unchanged
func (c *RedisCache[V]) Set(ctx context.Context, key string, epoch uint64, value V) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache value: %w", err)
	}

	stored, err := setIfEpoch.Run(ctx, c.client,
		[]string{c.valueKey(key), c.epochKey(key)},
		strconv.FormatUint(epoch, 10), data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: redis set failed: %w", ErrCacheUnavailable, err)
	}
	if stored == 0 {
		c.stats.staleWrites.Add(1)
		return false, nil
	}
	return true, nil
}

// Evict deletes the value and advances the epoch in one round trip
func (c *RedisCache[V]) Evict(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.valueKey(key))
		pipe.Incr(ctx, c.epochKey(key))
		pipe.Expire(ctx, c.epochKey(key), c.epochTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis evict failed: %w", ErrCacheUnavailable, err)
	}
	c.stats.evictions.Add(1)
	return nil
}

// Stats returns cache statistics for this process
func (c *RedisCache[V]) Stats() Stats {
	return c.stats.snapshot()
}
