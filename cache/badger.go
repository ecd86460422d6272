package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerCache implements the Cache interface using BadgerDB
type BadgerCache[T any] struct {
	db      *badger.DB
	codec   Codec[T]
	options *CacheOptions
	stopGC  chan struct{}
}

// NewBadgerCache creates a new BadgerCache instance. An empty dbPath opens an
// in-memory database.
func NewBadgerCache[T any](dbPath string, codec Codec[T], options *CacheOptions) (*BadgerCache[T], error) {
	if options == nil {
		options = DefaultCacheOptions()
	}
	if codec == nil {
		codec = JSONCodec[T]{}
	}

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable default logger
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	c := &BadgerCache[T]{
		db:      db,
		codec:   codec,
		options: options,
		stopGC:  make(chan struct{}),
	}
	if dbPath != "" {
		go c.runGC()
	}
	return c, nil
}

// Get retrieves a value from the cache
func (c *BadgerCache[T]) Get(ctx context.Context, key string) (T, error) {
	var result T

	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return result, ErrCacheMiss
		}
		if errors.Is(err, badger.ErrDBClosed) {
			return result, ErrCacheClosed
		}
		return result, fmt.Errorf("failed to get from cache: %w", err)
	}

	return c.codec.Decode(raw)
}

// Set stores a value in the cache with an optional TTL
func (c *BadgerCache[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	value, err := c.codec.Encode(data)
	if err != nil {
		return err
	}

	ttl = c.options.ttl(ttl)
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to set in cache: %w", err)
	}
	return nil
}

// Delete removes a value from the cache
func (c *BadgerCache[T]) Delete(ctx context.Context, key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete from cache: %w", err)
	}
	return nil
}

// Clear removes all values from the cache
func (c *BadgerCache[T]) Clear(ctx context.Context) error {
	return c.db.DropAll()
}

// Close closes the cache
func (c *BadgerCache[T]) Close() error {
	select {
	case <-c.stopGC:
	default:
		close(c.stopGC)
	}
	return c.db.Close()
}

// runGC reclaims value log space while the cache is open.
func (c *BadgerCache[T]) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			// Run GC if 50% or more space can be reclaimed, until nothing is left
			for c.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}
