package changeset

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"wsgraph/common"
)

var logger = logging.Logger("changeset")

var (
	// ErrNotFound is returned for unknown change set ids.
	ErrNotFound = errors.New("change set not found")
	// ErrAlreadyExists is returned by Create for a duplicate id.
	ErrAlreadyExists = errors.New("change set already exists")
	// ErrStalePointer is returned by UpdatePointer when the change set no
	// longer points at the expected snapshot.
	ErrStalePointer = errors.New("change set pointer moved")
)

const keyPrefix = "/changesets"

// Store keeps change sets in a datastore.
type Store struct {
	store ds.Datastore
	// serializes pointer compare-and-swap
	mu sync.Mutex
}

// NewStore creates a store over d.
func NewStore(d ds.Datastore) *Store {
	return &Store{store: d}
}

func key(id common.ChangeSetID) ds.Key {
	return ds.NewKey(keyPrefix + "/" + id.String())
}

// Create stores a new change set.
func (s *Store) Create(ctx context.Context, c *ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.store.Has(ctx, key(c.ID))
	if err != nil {
		return errors.Wrap(err, "failed to check if change set exists")
	}
	if exists {
		return errors.Wrapf(ErrAlreadyExists, "change set %s", c.ID)
	}
	if err := s.put(ctx, c); err != nil {
		return err
	}
	logger.Infof("created change set %s (%s)", c.ID, c.Name)
	return nil
}

// Get returns the change set with id.
func (s *Store) Get(ctx context.Context, id common.ChangeSetID) (*ChangeSet, error) {
	data, err := s.store.Get(ctx, key(id))
	if err != nil {
		if errors.Is(err, ds.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "change set %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get change set %s", id)
	}

	var c ChangeSet
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal change set %s", id)
	}
	return &c, nil
}

// List returns every change set ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*ChangeSet, error) {
	results, err := s.store.Query(ctx, dsq.Query{Prefix: keyPrefix})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query change sets")
	}
	defer results.Close()

	var out []*ChangeSet
	for result := range results.Next() {
		if result.Error != nil {
			return nil, errors.Wrap(result.Error, "failed to read query result")
		}
		var c ChangeSet
		if err := json.Unmarshal(result.Value, &c); err != nil {
			logger.Warnf("skipping malformed change set %s: %v", result.Key, err)
			continue
		}
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Fork creates and stores a change set forked from base.
func (s *Store) Fork(ctx context.Context, base common.ChangeSetID, name string) (*ChangeSet, error) {
	parent, err := s.Get(ctx, base)
	if err != nil {
		return nil, err
	}
	child := parent.Fork(name)
	if err := s.Create(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

// UpdatePointer moves the change set from expected to next. It fails with
// ErrStalePointer when another writer moved it first.
func (s *Store) UpdatePointer(ctx context.Context, id common.ChangeSetID, expected, next cid.Cid) (*ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.SnapshotAddress.Equals(expected) {
		return nil, errors.Wrapf(ErrStalePointer, "change set %s is at %s, not %s", id, c.SnapshotAddress, expected)
	}

	c.SnapshotAddress = next
	c.UpdatedAt = time.Now().UTC()
	if err := s.put(ctx, c); err != nil {
		return nil, err
	}
	logger.Debugf("change set %s moved to %s", id, next)
	return c, nil
}

// SetStatus records a status change.
func (s *Store) SetStatus(ctx context.Context, id common.ChangeSetID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return s.put(ctx, c)
}

func (s *Store) put(ctx context.Context, c *ChangeSet) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal change set")
	}
	if err := s.store.Put(ctx, key(c.ID), data); err != nil {
		return errors.Wrapf(err, "failed to store change set %s", c.ID)
	}
	return nil
}
