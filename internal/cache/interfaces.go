package cache

import (
	"context"
	"time"
)

// Cache defines the interface for the identity memo store.
// MemoryCache serves a single process; RedisCache lets several
// instances share resolved item identities.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A zero TTL keeps the entry for the cache lifetime.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int64, error)
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)
