package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// Business code depends on this, not on go-redis.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key.
	// A missing key returns ("", nil).
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// LockOps defines distributed lock operations.
// Locks are owned: only the holder of token can release or extend them.
type LockOps interface {
	// TryLock attempts to acquire key for ttl.
	// Returns the owner token and true if the lock was acquired.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// Unlock releases key if it is still held by token.
	Unlock(ctx context.Context, key, token string) error

	// ExtendLock extends the TTL of a lock still held by token.
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) error
}
