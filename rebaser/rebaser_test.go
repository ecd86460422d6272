package rebaser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"wsgraph/changeset"
	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/rebase"
	"wsgraph/workspace"
)

type fixture struct {
	services *workspace.Services
	ps       *MemoryPubSub
	client   *Client
	head     *changeset.ChangeSet
	feature  *changeset.ChangeSet
	comp     common.NodeID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	services, err := workspace.New(ctx, workspace.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })

	head, err := services.CreateWorkspace(ctx, "HEAD")
	require.NoError(t, err)
	snap, err := services.Open(ctx, head.ID)
	require.NoError(t, err)
	cat, err := snap.FindOrCreateCategory(ctx, graph.CategoryKindComponent)
	require.NoError(t, err)
	comp, err := snap.NewContentNode(ctx, graph.ContentKindComponent, "web")
	require.NoError(t, err)
	require.NoError(t, snap.AddEdge(ctx, cat, graph.EdgeKindUse, comp, ""))
	_, err = services.Commit(ctx, snap)
	require.NoError(t, err)

	head, err = services.ChangeSets.Get(ctx, head.ID)
	require.NoError(t, err)
	feature, err := services.Fork(ctx, head.ID, "feature")
	require.NoError(t, err)

	ps := NewMemoryPubSub()
	t.Cleanup(func() { _ = ps.Close() })

	server := NewServer(services, ps, zaptest.NewLogger(t), nil)
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	return &fixture{
		services: services,
		ps:       ps,
		client:   NewClient(ps, ""),
		head:     head,
		feature:  feature,
		comp:     comp,
	}
}

func (f *fixture) edit(t *testing.T, id common.ChangeSetID, fn func(s *workspace.Snapshot)) cid.Cid {
	t.Helper()
	ctx := context.Background()
	snap, err := f.services.Open(ctx, id)
	require.NoError(t, err)
	fn(snap)
	addr, err := f.services.Commit(ctx, snap)
	require.NoError(t, err)
	return addr
}

func TestRebaser_Applied(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	moved := make(chan ChangeSetMoved, 1)
	require.NoError(t, f.ps.Subscribe(ctx, DefaultMovedTopic, "watcher", func(_ context.Context, msg Message) error {
		m, err := decode[ChangeSetMoved](msg.Payload)
		if err != nil {
			return err
		}
		moved <- m
		return nil
	}))

	headAddr := f.edit(t, f.head.ID, func(s *workspace.Snapshot) {
		prop, err := s.NewContentNode(ctx, graph.ContentKindProp, "replicas")
		require.NoError(t, err)
		require.NoError(t, s.AddEdge(ctx, f.comp, graph.EdgeKindProp, prop, ""))
	})

	result, err := f.client.Rebase(ctx, f.feature.ID, headAddr, f.head.VectorClockID)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, result.Status, result.Error)
	require.NotNil(t, result.SnapshotAddress)
	assert.Len(t, result.Updates, 1)
	assert.Empty(t, result.Conflicts)

	cs, err := f.services.ChangeSets.Get(ctx, f.feature.ID)
	require.NoError(t, err)
	assert.True(t, cs.SnapshotAddress.Equals(*result.SnapshotAddress))

	select {
	case m := <-moved:
		assert.Equal(t, f.feature.ID, m.ChangeSetID)
		assert.True(t, m.SnapshotAddress.Equals(*result.SnapshotAddress))
		assert.Equal(t, result.NewRoot, m.RootHash)
	case <-ctx.Done():
		t.Fatal("no announcement")
	}
}

func TestRebaser_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f.edit(t, f.feature.ID, func(s *workspace.Snapshot) {
		require.NoError(t, s.UpdateContent(ctx, f.comp, "feature"))
	})
	headAddr := f.edit(t, f.head.ID, func(s *workspace.Snapshot) {
		require.NoError(t, s.UpdateContent(ctx, f.comp, "head"))
	})

	result, err := f.client.Rebase(ctx, f.feature.ID, headAddr, f.head.VectorClockID)
	require.NoError(t, err)
	assert.Equal(t, StatusConflicts, result.Status)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, rebase.ConflictNodeContent, result.Conflicts[0].Kind)
	assert.Nil(t, result.SnapshotAddress)
}

func TestRebaser_UnknownChangeSet(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := f.client.Rebase(ctx, common.NewChangeSetID(), f.head.SnapshotAddress, f.head.VectorClockID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, changeset.ErrNotFound.Error())
}

func TestRebaser_ConcurrentRequestsForOneChangeSet(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	headAddr := f.edit(t, f.head.ID, func(s *workspace.Snapshot) {
		require.NoError(t, s.UpdateContent(ctx, f.comp, "head"))
	})

	var wg sync.WaitGroup
	results := make([]*RebaseResult, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.client.Rebase(ctx, f.feature.ID, headAddr, f.head.VectorClockID)
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	// Serialized per change set, so no request loses the pointer race.
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, StatusApplied, r.Status, r.Error)
	}
}

func TestRebaser_DropsMalformedRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ps.Publish(ctx, DefaultRequestTopic, []byte("{not json")))
	payload, err := encode(RebaseRequest{RequestID: "r1"})
	require.NoError(t, err)
	require.NoError(t, f.ps.Publish(ctx, DefaultRequestTopic, payload))

	// The server keeps serving afterwards.
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result, err := f.client.Rebase(rctx, f.feature.ID, f.head.SnapshotAddress, f.head.VectorClockID)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, result.Status, result.Error)
	assert.Empty(t, result.Updates)
}

func TestMemoryPubSub(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()

	got := make(chan string, 2)
	require.NoError(t, ps.Subscribe(ctx, "t", "a", func(_ context.Context, msg Message) error {
		got <- string(msg.Payload)
		return nil
	}))
	assert.Error(t, ps.Subscribe(ctx, "t", "a", nil))

	require.NoError(t, ps.Publish(ctx, "t", []byte("hello")))
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}

	require.NoError(t, ps.Unsubscribe(ctx, "t", "a"))
	assert.Error(t, ps.Unsubscribe(ctx, "t", "a"))

	require.NoError(t, ps.Close())
	assert.ErrorIs(t, ps.Publish(ctx, "t", nil), ErrClosed)
}
