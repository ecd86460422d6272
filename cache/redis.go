package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache implements the Cache interface using Redis
type RedisCache[T any] struct {
	client  *redis.Client
	codec   Codec[T]
	options *CacheOptions
	prefix  string
	owned   bool
}

// RedisCacheOptions represents additional options for RedisCache
type RedisCacheOptions struct {
	// Base cache options
	CacheOptions

	// Redis specific options
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// DefaultRedisCacheOptions returns the default RedisCache options
func DefaultRedisCacheOptions() *RedisCacheOptions {
	return &RedisCacheOptions{
		CacheOptions: *DefaultCacheOptions(),
		PoolSize:     10,
		KeyPrefix:    "wsgraph:cache:",
	}
}

// NewRedisCache connects to redisAddr and creates a cache tier that owns the
// client.
func NewRedisCache[T any](redisAddr string, codec Codec[T], options *RedisCacheOptions) (*RedisCache[T], error) {
	if options == nil {
		options = DefaultRedisCacheOptions()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: options.Password,
		DB:       options.DB,
		PoolSize: options.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := NewRedisCacheWithClient[T](client, codec, options)
	c.owned = true
	return c, nil
}

// NewRedisCacheWithClient creates a cache tier over an existing client. The
// client is not closed by Close.
func NewRedisCacheWithClient[T any](client *redis.Client, codec Codec[T], options *RedisCacheOptions) *RedisCache[T] {
	if options == nil {
		options = DefaultRedisCacheOptions()
	}
	if codec == nil {
		codec = JSONCodec[T]{}
	}
	return &RedisCache[T]{
		client:  client,
		codec:   codec,
		options: &options.CacheOptions,
		prefix:  options.KeyPrefix,
	}
}

// Get retrieves a value from the cache
func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, error) {
	var result T

	data, err := c.client.Get(ctx, c.getKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return result, ErrCacheMiss
		}
		return result, fmt.Errorf("failed to get from Redis: %w", err)
	}

	return c.codec.Decode(data)
}

// Set stores a value in the cache with an optional TTL
func (c *RedisCache[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	bytes, err := c.codec.Encode(data)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.getKey(key), bytes, c.options.ttl(ttl)).Err(); err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}
	return nil
}

// Delete removes a value from the cache
func (c *RedisCache[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.getKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// Clear removes all values from the cache with the same prefix
func (c *RedisCache[T]) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys in Redis: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete keys from Redis: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes the cache
func (c *RedisCache[T]) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}

func (c *RedisCache[T]) getKey(key string) string {
	return c.prefix + key
}
