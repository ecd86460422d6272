package vectorclock

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	ds "github.com/ipfs/go-datastore"
)

// Clock hands out strictly increasing counters scoped to one vector clock id.
type Clock interface {
	// Next returns a counter greater than every counter previously returned
	// or witnessed for id.
	Next(ctx context.Context, id ID) (uint64, error)
	// Witness raises the floor for id so that Next never returns counter or
	// anything below it.
	Witness(ctx context.Context, id ID, counter uint64) error
}

// MemoryClock keeps counters in process memory.
type MemoryClock struct {
	counters map[ID]uint64
	mutex    sync.Mutex
}

// NewMemoryClock creates an empty in-memory clock.
func NewMemoryClock() *MemoryClock {
	return &MemoryClock{counters: make(map[ID]uint64)}
}

// Next implements Clock.
func (c *MemoryClock) Next(ctx context.Context, id ID) (uint64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.counters[id]++
	return c.counters[id], nil
}

// Witness implements Clock.
func (c *MemoryClock) Witness(ctx context.Context, id ID, counter uint64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if counter > c.counters[id] {
		c.counters[id] = counter
	}
	return nil
}

// DatastoreClock persists counters under /vectorclocks/<id> so they survive
// restarts. One process owns a given id at a time; the mutex only orders
// calls within that process.
type DatastoreClock struct {
	store ds.Datastore
	mutex sync.Mutex
}

// NewDatastoreClock creates a clock backed by store.
func NewDatastoreClock(store ds.Datastore) *DatastoreClock {
	return &DatastoreClock{store: store}
}

func clockKey(id ID) ds.Key {
	return ds.NewKey("/vectorclocks").ChildString(id.String())
}

func (c *DatastoreClock) load(ctx context.Context, id ID) (uint64, error) {
	data, err := c.store.Get(ctx, clockKey(id))
	if err == ds.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load clock %s: %w", id, err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt clock %s: %d bytes", id, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (c *DatastoreClock) store64(ctx context.Context, id ID, counter uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counter)
	if err := c.store.Put(ctx, clockKey(id), buf); err != nil {
		return fmt.Errorf("failed to store clock %s: %w", id, err)
	}
	return nil
}

// Next implements Clock.
func (c *DatastoreClock) Next(ctx context.Context, id ID) (uint64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	current, err := c.load(ctx, id)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := c.store64(ctx, id, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Witness implements Clock.
func (c *DatastoreClock) Witness(ctx context.Context, id ID, counter uint64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	current, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	if counter <= current {
		return nil
	}
	return c.store64(ctx, id, counter)
}
