package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisDatastore(t *testing.T) *RedisDatastore {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Skipping Redis test: %v", err)
	}

	store, err := NewRedisDatastore(client, &Options{Namespace: "test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() {
		res, err := store.Query(context.Background(), dsq.Query{KeysOnly: true})
		if err == nil {
			entries, _ := res.Rest()
			for _, e := range entries {
				store.Delete(context.Background(), ds.NewKey(e.Key))
			}
		}
		store.Close()
	})
	return store
}

func TestNewRedisDatastore_NilClient(t *testing.T) {
	_, err := NewRedisDatastore(nil, nil)
	assert.Error(t, err)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "etcd"})
	assert.Error(t, err)
}

func TestOpen_Memory(t *testing.T) {
	store, err := Open(context.Background(), Config{})
	require.NoError(t, err)

	key := ds.NewKey("/a")
	require.NoError(t, store.Put(context.Background(), key, []byte("x")))
	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestRedisDatastore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := setupRedisDatastore(t)

	key := ds.NewKey("/blocks/abc")
	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ds.ErrNotFound)

	require.NoError(t, store.Put(ctx, key, []byte("payload")))
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	size, err := store.GetSize(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 7, size)

	require.NoError(t, store.Delete(ctx, key))
	has, err := store.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRedisDatastore_BatchAndQuery(t *testing.T) {
	ctx := context.Background()
	store := setupRedisDatastore(t)

	batch, err := store.Batch(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Put(ctx, ds.NewKey("/changesets/1"), []byte("one")))
	require.NoError(t, batch.Put(ctx, ds.NewKey("/changesets/2"), []byte("two")))
	require.NoError(t, batch.Put(ctx, ds.NewKey("/other/3"), []byte("three")))
	require.NoError(t, batch.Commit(ctx))

	res, err := store.Query(ctx, dsq.Query{Prefix: "/changesets"})
	require.NoError(t, err)
	entries, err := res.Rest()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	many, err := store.GetMany(ctx, []ds.Key{ds.NewKey("/changesets/1"), ds.NewKey("/missing")})
	require.NoError(t, err)
	assert.Equal(t, map[ds.Key][]byte{ds.NewKey("/changesets/1"): []byte("one")}, many)
}
