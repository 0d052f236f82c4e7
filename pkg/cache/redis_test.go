package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewRedisClient(context.Background(), RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisOptions{URL: "://bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestRedisCache_GetSetEvict(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	c := NewRedisCache[entry](client, "guard:", time.Minute)

	_, err := c.Get(ctx, "perm:1:2")
	assert.ErrorIs(t, err, ErrCacheMiss)

	epoch, err := c.Epoch(ctx, "perm:1:2")
	require.NoError(t, err)
	assert.Zero(t, epoch)

	stored, err := c.Set(ctx, "perm:1:2", epoch, entry{Roles: []int64{3, 4}})
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists("guard:perm:1:2"))
	assert.Equal(t, time.Minute, mr.TTL("guard:perm:1:2"))

	got, err := c.Get(ctx, "perm:1:2")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, got.Roles)

	require.NoError(t, c.Evict(ctx, "perm:1:2"))
	assert.False(t, mr.Exists("guard:perm:1:2"))

	epoch, err = c.Epoch(ctx, "perm:1:2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), epoch)
}

func TestRedisCache_StaleWriteDiscarded(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	c := NewRedisCache[entry](client, "guard:", time.Minute)

	epoch, err := c.Epoch(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, c.Evict(ctx, "k"))

	stored, err := c.Set(ctx, "k", epoch, entry{Roles: []int64{1}})
	require.NoError(t, err)
	assert.False(t, stored)

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, int64(1), c.Stats().StaleWrites)
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	c := NewRedisCache[entry](client, "guard:", time.Minute)

	require.NoError(t, mr.Set("guard:k", "{not json"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, mr.Exists("guard:k"))
}

func TestRedisCache_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := NewRedisCache[entry](client, "guard:", time.Minute)
	mr.Close()

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, c.Evict(ctx, "k"), ErrCacheUnavailable)
	_, err = c.Epoch(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}
