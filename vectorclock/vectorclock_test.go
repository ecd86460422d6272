package vectorclock

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	base := NewID()
	left := NewID()
	right := NewID()

	tests := []struct {
		name string
		a, b VectorClock
		want Ordering
	}{
		{"both empty", New(), New(), Equal},
		{"identical", VectorClock{base: 3}, VectorClock{base: 3}, Equal},
		{"a dominates", VectorClock{base: 3, left: 1}, VectorClock{base: 3}, After},
		{"b dominates", VectorClock{base: 3}, VectorClock{base: 5}, Before},
		{"concurrent", VectorClock{base: 3, left: 1}, VectorClock{base: 3, right: 2}, Concurrent},
		{"concurrent same id", VectorClock{base: 4, left: 1}, VectorClock{base: 5}, Concurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestVectorClock_MergeAndUpdate(t *testing.T) {
	a := NewID()
	b := NewID()

	vc := VectorClock{a: 2}
	vc.Update(Dot{ID: a, Counter: 1})
	assert.Equal(t, uint64(2), vc.Get(a))

	vc.Update(Dot{ID: b, Counter: 4})
	assert.Equal(t, uint64(4), vc.Get(b))

	vc.Merge(VectorClock{a: 7, b: 1})
	assert.Equal(t, uint64(7), vc.Get(a))
	assert.Equal(t, uint64(4), vc.Get(b))
}

func TestVectorClock_Covers(t *testing.T) {
	a := NewID()
	vc := VectorClock{a: 3}

	assert.True(t, vc.Covers(Dot{ID: a, Counter: 3}))
	assert.False(t, vc.Covers(Dot{ID: a, Counter: 4}))
	assert.False(t, vc.Covers(Dot{ID: NewID(), Counter: 1}))
	assert.True(t, vc.Covers(Dot{}))
}

func TestVectorClock_CopyIsIndependent(t *testing.T) {
	a := NewID()
	vc := VectorClock{a: 1}
	cp := vc.Copy()
	cp[a] = 9
	assert.Equal(t, uint64(1), vc.Get(a))
}

func TestVectorClock_JSON(t *testing.T) {
	a := NewID()
	vc := VectorClock{a: 12}

	data, err := json.Marshal(vc)
	require.NoError(t, err)

	var decoded VectorClock
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, vc, decoded)
}

func TestMemoryClock_StrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	clock := NewMemoryClock()
	id := NewID()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := clock.Next(ctx, id)
			assert.NoError(t, err)
			mu.Lock()
			seen[c] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)

	require.NoError(t, clock.Witness(ctx, id, 100))
	next, err := clock.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), next)
}

func TestDatastoreClock_Persists(t *testing.T) {
	ctx := context.Background()
	store := dssync.MutexWrap(ds.NewMapDatastore())
	id := NewID()

	first := NewDatastoreClock(store)
	c1, err := first.Next(ctx, id)
	require.NoError(t, err)
	c2, err := first.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c1)
	assert.Equal(t, uint64(2), c2)

	// 재시작 후에도 카운터는 계속 증가해야 함
	second := NewDatastoreClock(store)
	c3, err := second.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c3)

	require.NoError(t, second.Witness(ctx, id, 2))
	c4, err := second.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), c4)
}
