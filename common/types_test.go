package common

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator_Monotonic(t *testing.T) {
	g, err := NewIDGenerator(7)
	require.NoError(t, err)

	prev := g.NewNodeID()
	for i := 0; i < 1000; i++ {
		next := g.NewNodeID()
		assert.Greater(t, int64(next), int64(prev))
		prev = next
	}
}

func TestIDGenerator_InvalidNode(t *testing.T) {
	_, err := NewIDGenerator(5000)
	assert.Error(t, err)
}

func TestNodeID_JSON(t *testing.T) {
	id := DefaultIDGenerator().NewNodeID()

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var decoded NodeID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)

	parsed, err := ParseNodeID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestHasher_FieldBoundaries(t *testing.T) {
	a := NewHasher()
	a.WriteString("ab")
	a.WriteString("c")

	b := NewHasher()
	b.WriteString("a")
	b.WriteString("bc")

	assert.NotEqual(t, a.Sum(), b.Sum())
	assert.False(t, a.Sum().IsZero())
}

func TestHash_Text(t *testing.T) {
	h := NewHasher()
	h.WriteUint64(42)
	sum := h.Sum()

	parsed, err := ParseHash(sum.String())
	require.NoError(t, err)
	assert.Equal(t, sum, parsed)

	_, err = ParseHash("abcd")
	assert.Error(t, err)
}

func TestErrSerialization_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := ErrSerialization{Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "boom")
}
