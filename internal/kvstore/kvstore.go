// Package kvstore defines the shared key-value store the gateway workers
// coordinate through. Throttler usage, in-flight counters, and the result
// cache all live here; Redis is the production backend.
package kvstore

import (
	"context"
	"time"
)

// Store is the interface to the shared key-value store.
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL.
	// If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrBy atomically adds delta to an integer value, creating the key at
	// zero if absent, and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Expire sets or refreshes the TTL for a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// StoreError represents a store error type.
type StoreError string

const (
	// ErrNotFound indicates the key was not found.
	ErrNotFound StoreError = "key not found"

	// ErrUnavailable indicates the store is unreachable.
	ErrUnavailable StoreError = "store unavailable"
)

func (e StoreError) Error() string {
	return string(e)
}

// Key schema shared by every worker. The fully qualified action name
// ("products.ListMatchingProducts") prefixes all three key families.

// UsageKey returns the key holding an action's quota usage.
func UsageKey(fqn string) string {
	return fqn + "_usage"
}

// PendingKey returns the key holding an action's in-flight counter.
func PendingKey(fqn string) string {
	return fqn + "_pending"
}

// CacheKey returns the key holding a cached result for one call signature.
func CacheKey(fqn, signature string) string {
	return fqn + "_" + signature
}
