package cache

import "errors"

var (
	// ErrCacheMiss is returned when a cache key is not found
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable is returned when the backing cache cannot be reached
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrInvalidKey is returned when a cache key is empty
	ErrInvalidKey = errors.New("invalid cache key")
)
