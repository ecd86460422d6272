package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadgerCache[T any](t *testing.T, codec Codec[T]) *BadgerCache[T] {
	c, err := NewBadgerCache[T]("", codec, nil)
	require.NoError(t, err, "Failed to create Badger cache")
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBadgerCache_JSON(t *testing.T) {
	ctx := context.Background()
	c := setupBadgerCache[*testPayload](t, nil)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	doc := &testPayload{Name: "component", Value: 3}
	require.NoError(t, c.Set(ctx, "k", doc, 0))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestBadgerCache_Raw(t *testing.T) {
	ctx := context.Background()
	c := setupBadgerCache[[]byte](t, RawCodec{})

	require.NoError(t, c.Set(ctx, "blob", []byte{1, 2, 3}, 0))
	got, err := c.Get(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, c.Delete(ctx, "blob"))
	_, err = c.Get(ctx, "blob")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestBadgerCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := setupBadgerCache[[]byte](t, RawCodec{})

	require.NoError(t, c.Set(ctx, "a", []byte("a"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("b"), 0))
	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestBadgerCache_CorruptValue(t *testing.T) {
	ctx := context.Background()
	raw := setupBadgerCache[[]byte](t, RawCodec{})
	require.NoError(t, raw.Set(ctx, "bad", []byte("{not json"), 0))

	typed := &BadgerCache[*testPayload]{db: raw.db, codec: JSONCodec[*testPayload]{}, options: raw.options}
	_, err := typed.Get(ctx, "bad")
	assert.ErrorIs(t, err, ErrDeserializationFailed)
}
