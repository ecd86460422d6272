package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingCache always fails writes; reads miss.
type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrCacheMiss }
func (failingCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return errors.New("disk full")
}
func (failingCache) Delete(ctx context.Context, key string) error { return nil }
func (failingCache) Clear(ctx context.Context) error              { return nil }
func (failingCache) Close() error                                 { return nil }

func TestLayered_ReadThroughBackfill(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryCache[[]byte](nil)
	slow := setupBadgerCache[[]byte](t, RawCodec{})
	layered := NewLayered[[]byte]("test", fast, slow)

	// present only in the slow tier
	require.NoError(t, slow.Set(ctx, "k", []byte("v"), 0))
	_, err := fast.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)

	got, err := layered.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// the fast tier was back-filled
	got, err = fast.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestLayered_WriteThrough(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryCache[[]byte](nil)
	slow := setupBadgerCache[[]byte](t, RawCodec{})
	layered := NewLayered[[]byte]("test", fast, slow)

	require.NoError(t, layered.Set(ctx, "k", []byte("v"), 0))

	for _, tier := range []Cache[[]byte]{fast, slow} {
		got, err := tier.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	}

	require.NoError(t, layered.Delete(ctx, "k"))
	_, err := layered.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestLayered_WriteFailureLeavesFastTierEmpty(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryCache[[]byte](nil)
	layered := NewLayered[[]byte]("test", fast, failingCache{})

	assert.Error(t, layered.Set(ctx, "k", []byte("v"), 0))
	_, err := fast.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestLayered_MissEverywhere(t *testing.T) {
	layered := NewLayered[[]byte]("test", NewMemoryCache[[]byte](nil))
	_, err := layered.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 1, layered.Tiers())
}
