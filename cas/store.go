// Package cas is the content-addressed store for node payloads and
// serialized graphs. Content is immutable: there is no update or delete.
package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	dshelp "github.com/ipfs/go-ipfs-ds-help"
	format "github.com/ipfs/go-ipld-format"
	logging "github.com/ipfs/go-log/v2"
	mh "github.com/multiformats/go-multihash"
	"golang.org/x/sync/errgroup"

	"wsgraph/cache"
	"wsgraph/common"
)

var logger = logging.Logger("cas")

// Prefix is the CID format used for every address: CIDv1, raw codec,
// sha2-256.
var Prefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

// blockPrefix is the namespace the blockstore keeps blocks under.
var blockPrefix = ds.NewKey("/blocks")

// MultiGetter is implemented by datastores that fetch many keys in one
// round trip. Missing keys are left out of the result.
type MultiGetter interface {
	GetMany(ctx context.Context, keys []ds.Key) (map[ds.Key][]byte, error)
}

// Options configures a Store.
type Options struct {
	// CacheTTL is passed to the cache on write-through and back-fill.
	CacheTTL time.Duration
	// Concurrency bounds the fan-out of ReadMany.
	Concurrency int
	// VerifyOnRead re-hashes blocks read from the backend.
	VerifyOnRead bool
}

// DefaultOptions returns the default store options.
func DefaultOptions() *Options {
	return &Options{
		CacheTTL:    0,
		Concurrency: 16,
	}
}

// Store implements write/read by content hash over a blockstore, with an
// optional cache in front.
type Store struct {
	blocks  blockstore.Blockstore
	batch   MultiGetter
	cache   cache.Cache[[]byte]
	options *Options
}

// New creates a store persisting blocks in d. c may be nil.
func New(d ds.Batching, c cache.Cache[[]byte], options *Options) *Store {
	if options == nil {
		options = DefaultOptions()
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}

	bs := blockstore.NewBlockstore(d)
	bs.HashOnRead(options.VerifyOnRead)

	batch, _ := d.(MultiGetter)
	return &Store{
		blocks:  bs,
		batch:   batch,
		cache:   c,
		options: options,
	}
}

// Address computes the content address of payload without storing it.
func Address(payload []byte) (cid.Cid, error) {
	c, err := Prefix.Sum(payload)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to hash payload: %w", err)
	}
	return c, nil
}

// Write stores payload if absent and returns its address. Writing the same
// bytes twice stores one copy.
func (s *Store) Write(ctx context.Context, payload []byte) (cid.Cid, error) {
	addr, err := Address(payload)
	if err != nil {
		return cid.Undef, err
	}

	exists, err := s.blocks.Has(ctx, addr)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to check %s: %w", addr, err)
	}
	if !exists {
		block, err := blocks.NewBlockWithCid(payload, addr)
		if err != nil {
			return cid.Undef, fmt.Errorf("failed to create block: %w", err)
		}
		if err := s.blocks.Put(ctx, block); err != nil {
			return cid.Undef, fmt.Errorf("failed to store %s: %w", addr, err)
		}
		logger.Debugf("stored %s (%d bytes)", addr, len(payload))
	}

	s.cacheSet(ctx, addr, payload)
	return addr, nil
}

// Read returns the payload stored at addr, or common.ErrMissingContent.
func (s *Store) Read(ctx context.Context, addr cid.Cid) ([]byte, error) {
	if s.cache != nil {
		data, err := s.cache.Get(ctx, addr.String())
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warnf("cache read for %s failed: %v", addr, err)
		}
	}

	block, err := s.blocks.Get(ctx, addr)
	if err != nil {
		if format.IsNotFound(err) {
			return nil, common.ErrMissingContent{Address: addr}
		}
		return nil, fmt.Errorf("failed to read %s: %w", addr, err)
	}

	data := block.RawData()
	s.cacheSet(ctx, addr, data)
	return data, nil
}

// Has reports whether addr is stored.
func (s *Store) Has(ctx context.Context, addr cid.Cid) (bool, error) {
	return s.blocks.Has(ctx, addr)
}

// ReadMany reads every address. Cache misses go to the datastore in one
// batch when it is a MultiGetter, otherwise they are read concurrently. Any
// missing address fails the whole call with common.ErrMissingContent.
func (s *Store) ReadMany(ctx context.Context, addrs []cid.Cid) (map[cid.Cid][]byte, error) {
	if s.batch == nil {
		return s.readConcurrently(ctx, addrs)
	}

	out := make(map[cid.Cid][]byte, len(addrs))
	keys := make([]ds.Key, 0, len(addrs))
	byKey := make(map[ds.Key]cid.Cid, len(addrs))
	for _, addr := range addrs {
		if s.cache != nil {
			if data, err := s.cache.Get(ctx, addr.String()); err == nil {
				out[addr] = data
				continue
			}
		}
		key := blockPrefix.Child(dshelp.MultihashToDsKey(addr.Hash()))
		if _, seen := byKey[key]; !seen {
			keys = append(keys, key)
		}
		byKey[key] = addr
	}
	if len(keys) == 0 {
		return out, nil
	}

	found, err := s.batch.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read %d blocks: %w", len(keys), err)
	}
	for _, key := range keys {
		addr := byKey[key]
		data, ok := found[key]
		if !ok {
			return nil, common.ErrMissingContent{Address: addr}
		}
		if s.options.VerifyOnRead {
			sum, err := Address(data)
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(sum.Hash(), addr.Hash()) {
				return nil, fmt.Errorf("block %s in storage has a different hash", addr)
			}
		}
		out[addr] = data
		s.cacheSet(ctx, addr, data)
	}
	logger.Debugf("batched read of %d blocks", len(keys))
	return out, nil
}

func (s *Store) readConcurrently(ctx context.Context, addrs []cid.Cid) (map[cid.Cid][]byte, error) {
	out := make(map[cid.Cid][]byte, len(addrs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.options.Concurrency)
	for _, addr := range addrs {
		g.Go(func() error {
			data, err := s.Read(gctx, addr)
			if err != nil {
				return err
			}
			mu.Lock()
			out[addr] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteValue stores v encoded as JSON.
func (s *Store) WriteValue(ctx context.Context, v any) (cid.Cid, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to encode value: %w", err)
	}
	return s.Write(ctx, data)
}

// ReadValue decodes the JSON payload at addr into out.
func (s *Store) ReadValue(ctx context.Context, addr cid.Cid, out any) error {
	data, err := s.Read(ctx, addr)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode value at %s: %w", addr, err)
	}
	return nil
}

func (s *Store) cacheSet(ctx context.Context, addr cid.Cid, data []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, addr.String(), data, s.options.CacheTTL); err != nil {
		logger.Warnf("cache write for %s failed: %v", addr, err)
	}
}
