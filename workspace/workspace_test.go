package workspace

import (
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsgraph/cas"
	"wsgraph/changeset"
	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/rebase"
)

type component struct {
	Name string `json:"name"`
}

func newServices(t *testing.T) *Services {
	t.Helper()
	s, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed creates HEAD with one component under the component category.
func seed(t *testing.T, s *Services) (*changeset.ChangeSet, common.NodeID) {
	t.Helper()
	ctx := context.Background()

	head, err := s.CreateWorkspace(ctx, "HEAD")
	require.NoError(t, err)

	snap, err := s.Open(ctx, head.ID)
	require.NoError(t, err)
	cat, err := snap.FindOrCreateCategory(ctx, graph.CategoryKindComponent)
	require.NoError(t, err)
	comp, err := snap.NewContentNode(ctx, graph.ContentKindComponent, component{Name: "web"})
	require.NoError(t, err)
	require.NoError(t, snap.AddEdge(ctx, cat, graph.EdgeKindUse, comp, ""))
	_, err = s.Commit(ctx, snap)
	require.NoError(t, err)

	head, err = s.ChangeSets.Get(ctx, head.ID)
	require.NoError(t, err)
	return head, comp
}

func TestSnapshot_EditAndCommit(t *testing.T) {
	ctx := context.Background()
	s := newServices(t)
	head, comp := seed(t, s)

	snap, err := s.Open(ctx, head.ID)
	require.NoError(t, err)

	var got component
	require.NoError(t, snap.Content(ctx, comp, &got))
	assert.Equal(t, "web", got.Name)

	cat, err := snap.FindOrCreateCategory(ctx, graph.CategoryKindComponent)
	require.NoError(t, err)
	children, err := snap.Children(cat)
	require.NoError(t, err)
	assert.Equal(t, []common.NodeID{comp}, children)

	require.NoError(t, snap.UpdateContent(ctx, comp, component{Name: "api"}))
	before := snap.Base()
	addr, err := s.Commit(ctx, snap)
	require.NoError(t, err)
	assert.False(t, addr.Equals(before))

	reopened, err := s.Open(ctx, head.ID)
	require.NoError(t, err)
	require.NoError(t, reopened.Content(ctx, comp, &got))
	assert.Equal(t, "api", got.Name)
	assert.Equal(t, snap.Graph().RootHash(), reopened.Graph().RootHash())
}

func TestSnapshot_OrderedChildren(t *testing.T) {
	ctx := context.Background()
	s := newServices(t)
	head, comp := seed(t, s)

	snap, err := s.Open(ctx, head.ID)
	require.NoError(t, err)

	var items []common.NodeID
	for _, name := range []string{"a", "b", "c"} {
		id, err := snap.NewContentNode(ctx, graph.ContentKindAttributeValue, name)
		require.NoError(t, err)
		require.NoError(t, snap.AddOrderedEdge(ctx, comp, id, ""))
		items = append(items, id)
	}

	children, err := snap.Children(comp)
	require.NoError(t, err)
	assert.Equal(t, items, children)

	reversed := []common.NodeID{items[2], items[1], items[0]}
	require.NoError(t, snap.Reorder(ctx, comp, reversed))
	children, err = snap.Children(comp)
	require.NoError(t, err)
	assert.Equal(t, reversed, children)

	require.NoError(t, snap.RemoveEdge(ctx, comp, graph.EdgeKindContain, items[1]))
	children, err = snap.Children(comp)
	require.NoError(t, err)
	assert.Equal(t, []common.NodeID{items[2], items[0]}, children)

	var invalid common.ErrInvalidGraph
	assert.ErrorAs(t, snap.RemoveEdge(ctx, comp, graph.EdgeKindContain, items[1]), &invalid)
}

func TestCommit_StalePointer(t *testing.T) {
	ctx := context.Background()
	s := newServices(t)
	head, comp := seed(t, s)

	first, err := s.Open(ctx, head.ID)
	require.NoError(t, err)
	second, err := s.Open(ctx, head.ID)
	require.NoError(t, err)

	require.NoError(t, first.UpdateContent(ctx, comp, component{Name: "first"}))
	require.NoError(t, second.UpdateContent(ctx, comp, component{Name: "second"}))

	_, err = s.Commit(ctx, first)
	require.NoError(t, err)
	_, err = s.Commit(ctx, second)
	assert.ErrorIs(t, err, changeset.ErrStalePointer)
}

func TestLoadSnapshot_Errors(t *testing.T) {
	ctx := context.Background()
	s := newServices(t)

	missing, err := cas.Address([]byte("nowhere"))
	require.NoError(t, err)
	_, err = s.LoadSnapshot(ctx, missing)
	var notFound common.ErrMissingContent
	require.True(t, errors.As(err, &notFound))
	assert.True(t, notFound.Address.Equals(missing))

	garbage, err := s.CAS.Write(ctx, []byte("not a graph"))
	require.NoError(t, err)
	_, err = s.LoadSnapshot(ctx, garbage)
	var malformed common.ErrSerialization
	require.True(t, errors.As(err, &malformed))
	assert.True(t, malformed.Address.Equals(garbage))
}

func TestLoadSnapshot_ReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	s := newServices(t)
	head, comp := seed(t, s)

	a, err := s.LoadSnapshot(ctx, head.SnapshotAddress)
	require.NoError(t, err)
	b, err := s.LoadSnapshot(ctx, head.SnapshotAddress)
	require.NoError(t, err)

	idx, err := a.NodeIndexByID(comp)
	require.NoError(t, err)
	cat, ok := a.FindCategory(graph.CategoryKindComponent)
	require.True(t, ok)
	n, err := a.RemoveEdge(cat, graph.EdgeKindUse, idx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = b.NodeIndexByID(comp)
	assert.NoError(t, err)
	assert.Equal(t, head.SnapshotAddress, mustWrite(t, s, b))
}

func mustWrite(t *testing.T, s *Services, g *graph.Graph) cid.Cid {
	t.Helper()
	addr, err := s.WriteSnapshot(context.Background(), g)
	require.NoError(t, err)
	return addr
}

func TestRebaseChangeSet(t *testing.T) {
	ctx := context.Background()

	t.Run("clean", func(t *testing.T) {
		s := newServices(t)
		head, comp := seed(t, s)
		feature, err := s.Fork(ctx, head.ID, "feature")
		require.NoError(t, err)

		fsnap, err := s.Open(ctx, feature.ID)
		require.NoError(t, err)
		require.NoError(t, fsnap.UpdateContent(ctx, comp, component{Name: "api"}))
		_, err = s.Commit(ctx, fsnap)
		require.NoError(t, err)

		hsnap, err := s.Open(ctx, head.ID)
		require.NoError(t, err)
		prop, err := hsnap.NewContentNode(ctx, graph.ContentKindProp, "replicas")
		require.NoError(t, err)
		require.NoError(t, hsnap.AddEdge(ctx, comp, graph.EdgeKindProp, prop, ""))
		headAddr, err := s.Commit(ctx, hsnap)
		require.NoError(t, err)

		outcome, err := s.RebaseChangeSet(ctx, feature.ID, headAddr, head.VectorClockID)
		require.NoError(t, err)
		require.True(t, outcome.Applied())
		assert.Empty(t, outcome.Result.Conflicts)
		assert.Equal(t, 1, outcome.Result.Count()[rebase.UpdateNewEdge])

		moved, err := s.ChangeSets.Get(ctx, feature.ID)
		require.NoError(t, err)
		assert.True(t, moved.SnapshotAddress.Equals(outcome.SnapshotAddress))
		assert.Equal(t, changeset.StatusOpen, moved.Status)

		rebased, err := s.Open(ctx, feature.ID)
		require.NoError(t, err)
		assert.Equal(t, outcome.NewRoot, rebased.Graph().RootHash())
		var got component
		require.NoError(t, rebased.Content(ctx, comp, &got))
		assert.Equal(t, "api", got.Name)
		children, err := rebased.Children(comp)
		require.NoError(t, err)
		assert.Contains(t, children, prop)

		// HEAD picks up the feature's work.
		applied, err := s.ApplyChangeSet(ctx, feature.ID, head.ID)
		require.NoError(t, err)
		require.True(t, applied.Applied())
		hsnap, err = s.Open(ctx, head.ID)
		require.NoError(t, err)
		require.NoError(t, hsnap.Content(ctx, comp, &got))
		assert.Equal(t, "api", got.Name)
		assert.Equal(t, rebased.Graph().RootHash(), hsnap.Graph().RootHash())

		done, err := s.ChangeSets.Get(ctx, feature.ID)
		require.NoError(t, err)
		assert.Equal(t, changeset.StatusApplied, done.Status)
	})

	t.Run("conflicted", func(t *testing.T) {
		s := newServices(t)
		head, comp := seed(t, s)
		feature, err := s.Fork(ctx, head.ID, "feature")
		require.NoError(t, err)

		fsnap, err := s.Open(ctx, feature.ID)
		require.NoError(t, err)
		require.NoError(t, fsnap.UpdateContent(ctx, comp, component{Name: "feature"}))
		featureAddr, err := s.Commit(ctx, fsnap)
		require.NoError(t, err)

		hsnap, err := s.Open(ctx, head.ID)
		require.NoError(t, err)
		require.NoError(t, hsnap.UpdateContent(ctx, comp, component{Name: "head"}))
		headAddr, err := s.Commit(ctx, hsnap)
		require.NoError(t, err)

		outcome, err := s.RebaseChangeSet(ctx, feature.ID, headAddr, head.VectorClockID)
		require.NoError(t, err)
		assert.False(t, outcome.Applied())
		assert.Equal(t, rebase.StateRejected, outcome.State)
		require.Len(t, outcome.Result.Conflicts, 1)
		assert.Equal(t, rebase.ConflictNodeContent, outcome.Result.Conflicts[0].Kind)

		unchanged, err := s.ChangeSets.Get(ctx, feature.ID)
		require.NoError(t, err)
		assert.True(t, unchanged.SnapshotAddress.Equals(featureAddr))
		assert.Equal(t, changeset.StatusConflicts, unchanged.Status)
	})

	t.Run("cancelled", func(t *testing.T) {
		s := newServices(t)
		head, comp := seed(t, s)
		feature, err := s.Fork(ctx, head.ID, "feature")
		require.NoError(t, err)

		hsnap, err := s.Open(ctx, head.ID)
		require.NoError(t, err)
		require.NoError(t, hsnap.UpdateContent(ctx, comp, component{Name: "head"}))
		headAddr, err := s.Commit(ctx, hsnap)
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = s.RebaseChangeSet(cctx, feature.ID, headAddr, head.VectorClockID)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
