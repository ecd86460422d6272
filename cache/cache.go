// Package cache provides the layered cache that sits in front of the content
// store and other hash-keyed stores.
//
// This package defines a generic Cache interface and several tiers:
//   - MemoryCache: an in-process LRU with per-entry TTL
//   - BadgerCache: a local persistent tier backed by BadgerDB
//   - RedisCache: a shared tier backed by Redis
//
// Layered composes tiers fastest first. Get is read-through (a hit in a slow
// tier back-fills the faster ones) and Set writes through every tier.
//
// Basic usage example:
//
//	mem := cache.NewMemoryCache[[]byte](nil)
//	disk, _ := cache.NewBadgerCache[[]byte]("", cache.RawCodec{}, nil)
//	layered := cache.NewLayered[[]byte]("cas", mem, disk)
//	defer layered.Close()
//
//	err := layered.Set(ctx, addr.String(), payload, 0)
//	data, err := layered.Get(ctx, addr.String())
//	if errors.Is(err, cache.ErrCacheMiss) {
//	    // not cached in any tier
//	}
//
// Keys are content hashes for CAS entries, so a cached value is never stale.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache errors define the standard error types returned by cache implementations.
var (
	// ErrCacheMiss is returned when a key is not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheClosed is returned when attempting to operate on a closed cache.
	ErrCacheClosed = errors.New("cache is closed")

	// ErrInvalidKey is returned when an empty key is provided to a cache operation.
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrSerializationFailed is returned when a persistent tier fails to
	// serialize a value for storage.
	ErrSerializationFailed = errors.New("failed to serialize cache value")

	// ErrDeserializationFailed is returned when a persistent tier reads bytes
	// it cannot decode.
	ErrDeserializationFailed = errors.New("failed to deserialize cache value")
)

// Cache is the interface for caching values of type T.
type Cache[T any] interface {
	// Get retrieves a value by key.
	//
	// Returns ErrCacheMiss if the key is not cached and ErrCacheClosed if the
	// cache is closed.
	Get(ctx context.Context, key string) (T, error)

	// Set stores a value with an optional TTL (0 for the default TTL).
	Set(ctx context.Context, key string, data T, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all keys owned by this cache.
	Clear(ctx context.Context) error

	// Close releases resources. The cache cannot be used afterwards.
	Close() error
}

// CacheOptions represents configuration options shared by cache tiers.
type CacheOptions struct {
	// DefaultTTL is used when a TTL of 0 is passed to Set.
	// A value of 0 means no expiration.
	DefaultTTL time.Duration

	// MaxItems bounds the memory tier. 0 means unbounded.
	MaxItems int

	// LogEnabled turns on debug logging of hits, misses and back-fills.
	LogEnabled bool
}

// DefaultCacheOptions returns the default cache options.
//
// The default options are:
// - DefaultTTL: 24 hours
// - MaxItems: 10,000
// - LogEnabled: false
func DefaultCacheOptions() *CacheOptions {
	return &CacheOptions{
		DefaultTTL: time.Hour * 24,
		MaxItems:   10000,
		LogEnabled: false,
	}
}

func (o *CacheOptions) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return o.DefaultTTL
	}
	return ttl
}
