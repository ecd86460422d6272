package rebase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/internal/graphtest"
	"wsgraph/rebase"
)

func detect(t *testing.T, toRebase, onto *graphtest.Builder) rebase.ConflictsAndUpdates {
	t.Helper()
	result, err := rebase.DetectConflictsAndUpdates(context.Background(),
		toRebase.Graph, toRebase.ClockID, onto.Graph, onto.ClockID)
	require.NoError(t, err)
	return result
}

func apply(t *testing.T, toRebase, onto *graphtest.Builder, result rebase.ConflictsAndUpdates) common.Hash {
	t.Helper()
	root, err := rebase.Apply(context.Background(), toRebase.Graph, toRebase.ClockID, onto.Graph, result)
	require.NoError(t, err)
	return root
}

func lineages(b *graphtest.Builder, ids []common.NodeID) []common.LineageID {
	out := make([]common.LineageID, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.Lineage(b.Index(id)))
	}
	return out
}

func TestRebase_OntoItselfIsNoop(t *testing.T) {
	b := graphtest.New(t)
	comp := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	b.Child(comp, graph.EdgeKindProp, graph.ContentKindProp, "name")

	result := detect(t, b, b)
	assert.True(t, result.IsEmpty())

	fork := b.Fork()
	assert.True(t, detect(t, fork, b).IsEmpty())
	assert.True(t, detect(t, b, fork).IsEmpty())
}

func TestRebase_EndToEnd(t *testing.T) {
	base := graphtest.New(t)
	a := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "A")

	left := base.Fork()
	right := base.Fork()
	bIdx := left.Child(a, graph.EdgeKindProp, graph.ContentKindProp, "B")
	cIdx := right.Child(a, graph.EdgeKindProp, graph.ContentKindProp, "C")
	left.Recalc()
	right.Recalc()
	leftBefore, rightBefore := left.Graph.RootHash(), right.Graph.RootHash()

	result := detect(t, left, right)
	require.Empty(t, result.Conflicts)
	require.Len(t, result.Updates, 1)
	u := result.Updates[0]
	assert.Equal(t, rebase.UpdateNewEdge, u.Kind)
	assert.Equal(t, left.ID(a), u.Source.ID)
	assert.Equal(t, right.ID(cIdx), u.Destination.ID)
	assert.Equal(t, graph.EdgeKindProp, u.Edge.Kind)

	root := apply(t, left, right, result)
	assert.NotEqual(t, leftBefore, root)
	assert.NotEqual(t, rightBefore, root)
	assert.Equal(t, root, left.Graph.RootHash())

	children := left.Graph.Children(a)
	ids := []common.NodeID{left.ID(children[0]), left.ID(children[1])}
	assert.ElementsMatch(t, []common.NodeID{left.ID(bIdx), right.ID(cIdx)}, ids)

	assert.True(t, detect(t, left, right).IsEmpty(), "a second rebase has nothing to do")

	back := detect(t, right, left)
	require.Len(t, back.Updates, 1)
	assert.Equal(t, left.ID(bIdx), back.Updates[0].Destination.ID)
}

func TestRebase_ChangesBelowNewNodes(t *testing.T) {
	base := graphtest.New(t)
	x := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "X")

	left := base.Fork()
	right := base.Fork()
	n := right.Child(right.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "N")
	right.Edge(n, graph.EdgeKindUse, x)
	right.RemoveEdge(right.Root(), graph.EdgeKindUse, x)
	y := right.Child(x, graph.EdgeKindProp, graph.ContentKindProp, "Y")

	result := detect(t, left, right)
	require.Empty(t, result.Conflicts)
	counts := result.Count()
	assert.Equal(t, 1, counts[rebase.UpdateRemoveEdge])
	assert.Equal(t, 2, counts[rebase.UpdateNewEdge])

	var reached bool
	for _, u := range result.Updates {
		if u.Kind == rebase.UpdateNewEdge && u.Source.LineageID == base.Lineage(x) {
			reached = true
			assert.Equal(t, right.ID(y), u.Destination.ID)
		}
	}
	assert.True(t, reached, "X is only reachable through N on the base side")

	root := apply(t, left, right, result)
	right.Recalc()
	assert.Equal(t, right.Graph.RootHash(), root)

	xIdx := left.Index(base.ID(x))
	children := left.Graph.Children(xIdx)
	require.Len(t, children, 1)
	assert.Equal(t, right.ID(y), left.ID(children[0]))
	assert.True(t, detect(t, left, right).IsEmpty())
}

func TestRebase_DominanceReplacesSubgraph(t *testing.T) {
	base := graphtest.New(t)
	comp := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")

	left := base.Fork()
	right := base.Fork()
	right.SetContent(comp, "web v2")

	result := detect(t, left, right)
	assert.Empty(t, result.Conflicts)
	require.Len(t, result.Updates, 1)
	assert.Equal(t, rebase.UpdateReplaceSubgraph, result.Updates[0].Kind)
	assert.Equal(t, left.Lineage(comp), result.Updates[0].ToRebase.LineageID)

	root := apply(t, left, right, result)
	right.Recalc()
	assert.Equal(t, right.Graph.RootHash(), root)

	// 리베이스 대상이 더 최신이면 아무 것도 하지 않는다
	assert.True(t, detect(t, right, base).IsEmpty())
}

func TestRebase_ConcurrentContentConflicts(t *testing.T) {
	base := graphtest.New(t)
	comp := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")

	left := base.Fork()
	right := base.Fork()
	left.SetContent(comp, "renamed left")
	right.SetContent(comp, "renamed right")
	left.Recalc()
	before := left.Graph.RootHash()

	result := detect(t, left, right)
	require.Len(t, result.Conflicts, 1)
	assert.Empty(t, result.Updates)

	c := result.Conflicts[0]
	assert.Equal(t, rebase.ConflictNodeContent, c.Kind)
	assert.Equal(t, left.Lineage(comp), c.LineageID)
	require.NotNil(t, c.ToRebase)
	require.NotNil(t, c.Onto)
	assert.Equal(t, left.ID(comp), c.ToRebase.ID)

	_, err := rebase.Apply(context.Background(), left.Graph, left.ClockID, right.Graph, result)
	assert.ErrorIs(t, err, rebase.ErrUnresolvedConflicts)
	assert.Equal(t, before, left.Graph.RootHash(), "nothing is mutated")
}

func TestRebase_UnchangedSubtreeIsSkipped(t *testing.T) {
	base := graphtest.New(t)
	shared := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "shared")
	sharedProp := base.Child(shared, graph.EdgeKindProp, graph.ContentKindProp, "shared prop")
	other := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "other")

	left := base.Fork()
	right := base.Fork()
	right.SetContent(other, "other v2")
	right.Child(other, graph.EdgeKindProp, graph.ContentKindProp, "new prop")

	inShared := map[common.LineageID]bool{
		base.Lineage(shared):     true,
		base.Lineage(sharedProp): true,
	}

	result := detect(t, left, right)
	assert.Empty(t, result.Conflicts)
	assert.Len(t, result.Updates, 2)
	for _, u := range result.Updates {
		for _, info := range []*rebase.NodeInformation{u.Source, u.Destination, u.ToRebase, u.Onto} {
			if info != nil {
				assert.False(t, inShared[info.LineageID], "update %s touches the unchanged subtree", u)
			}
		}
	}
}

func TestRebase_CategoryMerge(t *testing.T) {
	base := graphtest.New(t)

	left := base.Fork()
	right := base.Fork()
	leftCat := left.Category(graph.CategoryKindComponent)
	l := left.Child(leftCat, graph.EdgeKindUse, graph.ContentKindComponent, "left component")
	rightCat := right.Category(graph.CategoryKindComponent)
	r := right.Child(rightCat, graph.EdgeKindUse, graph.ContentKindComponent, "right component")

	result := detect(t, left, right)
	assert.Empty(t, result.Conflicts)
	require.Len(t, result.Updates, 1)
	assert.Equal(t, rebase.UpdateMergeCategoryNodes, result.Updates[0].Kind)

	apply(t, left, right, result)

	cats := left.Graph.CategoryNodes(graph.CategoryKindComponent)
	require.Len(t, cats, 1)
	assert.Equal(t, right.Lineage(rightCat), left.Lineage(cats[0]))

	children := left.Graph.Children(cats[0])
	got := make([]common.LineageID, 0, len(children))
	for _, c := range children {
		got = append(got, left.Lineage(c))
	}
	assert.ElementsMatch(t, []common.LineageID{left.Lineage(l), right.Lineage(r)}, got)

	again := detect(t, left, right)
	assert.Empty(t, again.Conflicts)
	assert.Empty(t, again.Updates)
}

func TestRebase_ChildOrder(t *testing.T) {
	base := graphtest.New(t)
	obj := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindProp, "object")
	base.Ordered(obj)
	x := base.Child(obj, graph.EdgeKindContain, graph.ContentKindProp, "x")
	y := base.Child(obj, graph.EdgeKindContain, graph.ContentKindProp, "y")
	z := base.Child(obj, graph.EdgeKindContain, graph.ContentKindProp, "z")

	t.Run("concurrent reorders conflict", func(t *testing.T) {
		left := base.Fork()
		right := base.Fork()
		left.Reorder(obj, z, x, y)
		right.Reorder(obj, y, z, x)

		result := detect(t, left, right)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, rebase.ConflictChildOrder, result.Conflicts[0].Kind)
		assert.Equal(t, left.ID(obj), result.Conflicts[0].Container.ID)
	})

	t.Run("concurrent appends merge", func(t *testing.T) {
		left := base.Fork()
		right := base.Fork()
		w := left.Child(obj, graph.EdgeKindContain, graph.ContentKindProp, "w")
		v := right.Child(obj, graph.EdgeKindContain, graph.ContentKindProp, "v")

		result := detect(t, left, right)
		require.Empty(t, result.Conflicts)
		require.Len(t, result.Updates, 1)
		assert.Equal(t, rebase.UpdateNewEdge, result.Updates[0].Kind)

		apply(t, left, right, result)
		got := lineages(left, left.Graph.EffectiveOrder(obj))
		want := []common.LineageID{
			base.Lineage(x), base.Lineage(y), base.Lineage(z), right.Lineage(v), left.Lineage(w),
		}
		assert.Equal(t, want, got)
	})
}

func TestRebase_RemovedEdges(t *testing.T) {
	base := graphtest.New(t)
	comp := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "db")

	t.Run("removal is replayed", func(t *testing.T) {
		left := base.Fork()
		right := base.Fork()
		right.RemoveEdge(right.Root(), graph.EdgeKindUse, comp)
		compID := left.ID(comp)

		result := detect(t, left, right)
		require.Empty(t, result.Conflicts)
		require.Len(t, result.Updates, 1)
		assert.Equal(t, rebase.UpdateRemoveEdge, result.Updates[0].Kind)

		root := apply(t, left, right, result)
		right.Recalc()
		assert.Equal(t, right.Graph.RootHash(), root)
		_, err := left.Graph.NodeIndexByID(compID)
		assert.ErrorAs(t, err, &common.ErrNodeNotFound{})
	})

	t.Run("modified here, removed on base", func(t *testing.T) {
		left := base.Fork()
		right := base.Fork()
		left.SetContent(comp, "web v2")
		right.RemoveEdge(right.Root(), graph.EdgeKindUse, comp)

		result := detect(t, left, right)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, rebase.ConflictModifyRemovedItem, result.Conflicts[0].Kind)
		assert.Empty(t, result.Updates)
	})

	t.Run("removed here, modified on base", func(t *testing.T) {
		left := base.Fork()
		right := base.Fork()
		left.RemoveEdge(left.Root(), graph.EdgeKindUse, comp)
		right.SetContent(comp, "web v2")

		result := detect(t, left, right)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, rebase.ConflictRemoveModifiedItem, result.Conflicts[0].Kind)
		assert.Nil(t, result.Conflicts[0].ToRebase)
		assert.Empty(t, result.Updates)
	})

	t.Run("removed here, untouched on base", func(t *testing.T) {
		left := base.Fork()
		right := base.Fork()
		left.RemoveEdge(left.Root(), graph.EdgeKindUse, comp)
		right.Child(right.Root(), graph.EdgeKindUse, graph.ContentKindSchema, "schema")

		result := detect(t, left, right)
		assert.Empty(t, result.Conflicts)
		require.Len(t, result.Updates, 1)
		assert.Equal(t, rebase.UpdateNewEdge, result.Updates[0].Kind)
	})
}

func TestRebase_ExclusiveEdgeMismatch(t *testing.T) {
	base := graphtest.New(t)
	av := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindAttributeValue, "av")

	left := base.Fork()
	right := base.Fork()
	left.Child(av, graph.EdgeKindPrototype, graph.ContentKindAttributePrototype, "left prototype")
	right.Child(av, graph.EdgeKindPrototype, graph.ContentKindAttributePrototype, "right prototype")

	result := detect(t, left, right)
	require.Len(t, result.Conflicts, 1)
	c := result.Conflicts[0]
	assert.Equal(t, rebase.ConflictExclusiveEdgeMismatch, c.Kind)
	assert.Equal(t, graph.EdgeKindPrototype, c.EdgeKind)
	assert.Empty(t, result.Updates, "the conflicting addition is dropped")
}

func TestRebase_DetectionIsCancellable(t *testing.T) {
	base := graphtest.New(t)
	comp := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	left := base.Fork()
	right := base.Fork()
	right.SetContent(comp, "web v2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rebase.DetectConflictsAndUpdates(ctx, left.Graph, left.ClockID, right.Graph, right.ClockID)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = rebase.PerformUpdates(ctx, left.Graph, left.ClockID, right.Graph, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
