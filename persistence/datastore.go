package persistence

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("persistence")

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures the persistence backend.
type Config struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Options       *Options
}

// NewMemoryDatastore returns a thread-safe in-memory datastore.
func NewMemoryDatastore() ds.Batching {
	return dssync.MutexWrap(ds.NewMapDatastore())
}

// Open creates the datastore named by cfg.Backend. The redis client is
// pinged before returning.
func Open(ctx context.Context, cfg Config) (ds.Batching, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		logger.Infof("using in-memory datastore")
		return NewMemoryDatastore(), nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Infof("using redis datastore at %s", cfg.RedisAddr)
		return NewRedisDatastore(client, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
