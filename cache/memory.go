package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache implements the Cache interface with an in-process LRU.
// Entries expire after the cache's DefaultTTL; per-call TTLs shorter than the
// default are honoured by recording an explicit deadline.
type MemoryCache[T any] struct {
	lru     *expirable.LRU[string, memoryItem[T]]
	options *CacheOptions
	mu      sync.RWMutex
	closed  bool
}

type memoryItem[T any] struct {
	data      T
	expiresAt time.Time
}

// NewMemoryCache creates a new MemoryCache instance
func NewMemoryCache[T any](options *CacheOptions) *MemoryCache[T] {
	if options == nil {
		options = DefaultCacheOptions()
	}

	return &MemoryCache[T]{
		lru:     expirable.NewLRU[string, memoryItem[T]](options.MaxItems, nil, options.DefaultTTL),
		options: options,
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache[T]) Get(ctx context.Context, key string) (T, error) {
	var empty T

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return empty, ErrCacheClosed
	}

	item, ok := c.lru.Get(key)
	if !ok {
		return empty, ErrCacheMiss
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		c.lru.Remove(key)
		return empty, ErrCacheMiss
	}
	return item.data, nil
}

// Set stores a value in the cache with an optional TTL
func (c *MemoryCache[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCacheClosed
	}

	item := memoryItem[T]{data: data}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	c.lru.Add(key, item)
	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache[T]) Delete(ctx context.Context, key string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCacheClosed
	}

	c.lru.Remove(key)
	return nil
}

// Clear removes all values from the cache
func (c *MemoryCache[T]) Clear(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCacheClosed
	}

	c.lru.Purge()
	return nil
}

// Len returns the number of cached entries, including expired ones not yet
// reaped.
func (c *MemoryCache[T]) Len() int {
	return c.lru.Len()
}

// Close closes the cache
func (c *MemoryCache[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.lru.Purge()
	return nil
}
