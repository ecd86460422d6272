// Package workspace owns the stores a workspace graph lives in and edits,
// persists and rebases change set snapshots.
package workspace

import (
	"context"
	"errors"
	"time"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	pkgerrors "github.com/pkg/errors"

	"wsgraph/cache"
	"wsgraph/cas"
	"wsgraph/changeset"
	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/persistence"
	"wsgraph/vectorclock"
)

var logger = logging.Logger("workspace")

// Config configures Services.
type Config struct {
	Persistence persistence.Config
	// IDNode is the snowflake node number of this process (0-1023).
	IDNode int64
	// BadgerCache enables the local persistent cache tier.
	BadgerCache bool
	// BadgerDir is the badger directory; empty keeps the tier in memory.
	BadgerDir string
	// RedisCacheAddr enables the shared cache tier when set.
	RedisCacheAddr string
	Cache          *cache.CacheOptions
	CAS            *cas.Options
	// GraphCacheSize bounds the number of decoded graphs kept in memory.
	GraphCacheSize int
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Persistence:    persistence.Config{Backend: persistence.BackendMemory},
		IDNode:         1,
		Cache:          cache.DefaultCacheOptions(),
		CAS:            cas.DefaultOptions(),
		GraphCacheSize: 64,
	}
}

// Services is the context object passed to everything that reads or writes
// workspace graphs. Close releases every store it opened.
type Services struct {
	Datastore  ds.Batching
	CAS        *cas.Store
	IDs        *common.IDGenerator
	Clock      vectorclock.Clock
	ChangeSets *changeset.Store

	contentCache *cache.Layered[[]byte]
	graphs       *cache.MemoryCache[*graph.Graph]
}

// New opens the stores named by cfg.
func New(ctx context.Context, cfg Config) (*Services, error) {
	if cfg.Cache == nil {
		cfg.Cache = cache.DefaultCacheOptions()
	}

	ids, err := common.NewIDGenerator(cfg.IDNode)
	if err != nil {
		return nil, err
	}

	store, err := persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		return nil, err
	}

	tiers := []cache.Cache[[]byte]{cache.NewMemoryCache[[]byte](cfg.Cache)}
	if cfg.BadgerCache {
		bc, err := cache.NewBadgerCache[[]byte](cfg.BadgerDir, cache.RawCodec{}, cfg.Cache)
		if err != nil {
			closeAll(tiers)
			store.Close()
			return nil, pkgerrors.Wrap(err, "failed to open badger cache tier")
		}
		tiers = append(tiers, bc)
	}
	if cfg.RedisCacheAddr != "" {
		opts := cache.DefaultRedisCacheOptions()
		opts.CacheOptions = *cfg.Cache
		rc, err := cache.NewRedisCache[[]byte](cfg.RedisCacheAddr, cache.RawCodec{}, opts)
		if err != nil {
			closeAll(tiers)
			store.Close()
			return nil, pkgerrors.Wrap(err, "failed to open redis cache tier")
		}
		tiers = append(tiers, rc)
	}

	graphCacheSize := cfg.GraphCacheSize
	if graphCacheSize <= 0 {
		graphCacheSize = 64
	}

	content := cache.NewLayered("cas", tiers...)
	s := &Services{
		Datastore:    store,
		CAS:          cas.New(store, content, cfg.CAS),
		IDs:          ids,
		Clock:        vectorclock.NewDatastoreClock(store),
		ChangeSets:   changeset.NewStore(store),
		contentCache: content,
		graphs: cache.NewMemoryCache[*graph.Graph](&cache.CacheOptions{
			DefaultTTL: 30 * time.Minute,
			MaxItems:   graphCacheSize,
		}),
	}
	logger.Infof("workspace services ready (%d content cache tiers)", content.Tiers())
	return s, nil
}

func closeAll(tiers []cache.Cache[[]byte]) {
	for _, t := range tiers {
		_ = t.Close()
	}
}

// Close releases the caches and the datastore.
func (s *Services) Close() error {
	return errors.Join(
		s.graphs.Close(),
		s.contentCache.Close(),
		s.Datastore.Close(),
	)
}

// WriteSnapshot removes unreachable nodes from g, recalculates its hashes,
// serializes it and stores it in the content store. The returned address
// names this graph version.
func (s *Services) WriteSnapshot(ctx context.Context, g *graph.Graph) (cid.Cid, error) {
	g.Cleanup()
	data, err := g.Encode()
	if err != nil {
		return cid.Undef, pkgerrors.Wrap(err, "failed to encode snapshot")
	}

	addr, err := s.CAS.Write(ctx, data)
	if err != nil {
		return cid.Undef, err
	}
	if err := s.graphs.Set(ctx, addr.String(), g.Clone(), 0); err != nil {
		logger.Warnf("graph cache write for %s failed: %v", addr, err)
	}
	logger.Debugf("wrote snapshot %s (root %s, %d bytes)", addr, g.RootHash(), len(data))
	return addr, nil
}

// LoadSnapshot resolves addr through the content store and rebuilds the
// graph. Each call returns an independent copy.
func (s *Services) LoadSnapshot(ctx context.Context, addr cid.Cid) (*graph.Graph, error) {
	if g, err := s.graphs.Get(ctx, addr.String()); err == nil {
		return g.Clone(), nil
	}

	data, err := s.CAS.Read(ctx, addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to load snapshot %s", addr)
	}
	g, err := graph.Decode(data)
	if err != nil {
		return nil, common.ErrSerialization{Address: addr, Err: err}
	}

	if err := s.graphs.Set(ctx, addr.String(), g.Clone(), 0); err != nil {
		logger.Warnf("graph cache write for %s failed: %v", addr, err)
	}
	return g, nil
}

// CreateWorkspace writes an empty graph and a change set pointing at it.
func (s *Services) CreateWorkspace(ctx context.Context, name string) (*changeset.ChangeSet, error) {
	cs := changeset.New(name, cid.Undef)

	counter, err := s.Clock.Next(ctx, cs.VectorClockID)
	if err != nil {
		return nil, err
	}
	rootAddr, err := s.CAS.WriteValue(ctx, map[string]string{"kind": "root", "name": name})
	if err != nil {
		return nil, err
	}
	id, lineage := s.IDs.NewIDs()
	root := graph.NewContentWeight(id, lineage, graph.ContentKindRoot, rootAddr)
	root.Stamp(vectorclock.Dot{ID: cs.VectorClockID, Counter: counter})

	g, err := graph.New(root)
	if err != nil {
		return nil, err
	}
	addr, err := s.WriteSnapshot(ctx, g)
	if err != nil {
		return nil, err
	}

	cs.SnapshotAddress = addr
	if err := s.ChangeSets.Create(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// Fork creates a change set from base. The graph is shared, not copied.
func (s *Services) Fork(ctx context.Context, base common.ChangeSetID, name string) (*changeset.ChangeSet, error) {
	return s.ChangeSets.Fork(ctx, base, name)
}

// Open loads the change set's current snapshot for editing.
func (s *Services) Open(ctx context.Context, id common.ChangeSetID) (*Snapshot, error) {
	cs, err := s.ChangeSets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.LoadSnapshot(ctx, cs.SnapshotAddress)
	if err != nil {
		return nil, err
	}

	// never hand out a counter the graph already holds
	if err := s.Clock.Witness(ctx, cs.VectorClockID, g.Knowledge().Get(cs.VectorClockID)); err != nil {
		return nil, err
	}
	return newSnapshot(s, cs, g), nil
}

// Commit writes the edited snapshot and moves its change set to it. It
// fails with changeset.ErrStalePointer when the change set moved since the
// snapshot was opened.
func (s *Services) Commit(ctx context.Context, snap *Snapshot) (cid.Cid, error) {
	addr, err := s.WriteSnapshot(ctx, snap.graph)
	if err != nil {
		return cid.Undef, err
	}
	cs, err := s.ChangeSets.UpdatePointer(ctx, snap.changeSet.ID, snap.base, addr)
	if err != nil {
		return cid.Undef, err
	}
	snap.changeSet = cs
	snap.base = addr
	return addr, nil
}
