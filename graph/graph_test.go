package graph_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/internal/graphtest"
)

func TestGraph_AddOrReplaceNode(t *testing.T) {
	b := graphtest.New(t)
	g := b.Graph

	comp := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	assert.Equal(t, 2, g.NodeCount())

	w := g.MustWeight(comp).Clone()
	w.Variant.(*graph.ContentNode).Address = graphtest.Address(t, "web v2")
	idx, err := g.AddOrReplaceNode(w)
	require.NoError(t, err)
	assert.Equal(t, comp, idx, "same id replaces in place")
	assert.Equal(t, 2, g.NodeCount())

	got, err := g.GetNodeWeight(w.ID)
	require.NoError(t, err)
	addr, ok := got.ContentAddress()
	require.True(t, ok)
	assert.Equal(t, graphtest.Address(t, "web v2"), addr)
}

func TestGraph_ReplaceNodeKeepsEdgesAndLineage(t *testing.T) {
	b := graphtest.New(t)
	g := b.Graph

	comp := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	prop := b.Child(comp, graph.EdgeKindProp, graph.ContentKindProp, "name")
	lineage := b.Lineage(comp)
	oldID := b.ID(comp)

	replacement := g.MustWeight(comp).Clone()
	replacement.ID = b.IDs.NewNodeID()
	require.NoError(t, g.ReplaceNode(comp, replacement))

	_, err := g.NodeIndexByID(oldID)
	assert.ErrorAs(t, err, &common.ErrNodeNotFound{})
	assert.Equal(t, []graph.NodeIndex{comp}, g.NodeIndicesByLineage(lineage))
	assert.Equal(t, []graph.NodeIndex{prop}, g.Children(comp))
}

func TestGraph_AddEdgeIsIdempotent(t *testing.T) {
	b := graphtest.New(t)
	g := b.Graph
	comp := b.Node(graph.ContentKindComponent, "web")

	added, err := g.AddEdge(b.Root(), graph.NewEdgeWeight(graph.EdgeKindUse, b.Dot()), comp)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = g.AddEdge(b.Root(), graph.NewEdgeWeight(graph.EdgeKindUse, b.Dot()), comp)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = g.AddEdge(b.Root(), graph.NewEdgeWeight(graph.EdgeKindUse, b.Dot()).WithKey("x"), comp)
	require.NoError(t, err)
	assert.True(t, added, "a different key is a different edge")
	assert.Equal(t, 2, g.EdgeCount())

	_, err = g.AddEdge(comp, graph.NewEdgeWeight(graph.EdgeKindUse, b.Dot()), comp)
	assert.ErrorAs(t, err, &common.ErrInvalidGraph{})
}

func TestGraph_OutgoingTargets(t *testing.T) {
	b := graphtest.New(t)
	g := b.Graph

	comp := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	p1 := b.Child(comp, graph.EdgeKindProp, graph.ContentKindProp, "a")
	p2 := b.Child(comp, graph.EdgeKindProp, graph.ContentKindProp, "b")
	b.Child(comp, graph.EdgeKindSocket, graph.ContentKindSocket, "out")

	props := slices.Collect(g.OutgoingTargets(b.ID(comp), graph.EdgeKindProp))
	assert.ElementsMatch(t, []common.NodeID{b.ID(p1), b.ID(p2)}, props)

	// 조기 종료
	count := 0
	for range g.OutgoingTargets(b.ID(comp), graph.EdgeKindProp) {
		count++
		break
	}
	assert.Equal(t, 1, count)

	assert.Empty(t, slices.Collect(g.OutgoingTargets(common.NodeID(42), graph.EdgeKindProp)))
}

func TestGraph_RemoveEdge(t *testing.T) {
	b := graphtest.New(t)
	g := b.Graph

	comp := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	n, err := g.RemoveEdge(b.Root(), graph.EdgeKindProp, comp)
	require.NoError(t, err)
	assert.Zero(t, n, "kind must match")

	n, err = g.RemoveEdge(b.Root(), graph.EdgeKindUse, comp)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, g.IncomingEdges(comp))
	assert.False(t, g.HasPathToRoot(comp))
}

func TestGraph_Cleanup(t *testing.T) {
	b := graphtest.New(t)
	g := b.Graph

	comp := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	prop := b.Child(comp, graph.EdgeKindProp, graph.ContentKindProp, "name")
	keep := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindSchema, "schema")
	compID, propID := b.ID(comp), b.ID(prop)

	b.RemoveEdge(b.Root(), graph.EdgeKindUse, comp)
	assert.Equal(t, 2, g.Cleanup())

	_, err := g.NodeIndexByID(compID)
	assert.Error(t, err)
	_, err = g.NodeIndexByID(propID)
	assert.Error(t, err)
	assert.True(t, g.HasPathToRoot(keep))
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	assert.Zero(t, g.Cleanup())
}

func TestGraph_Categories(t *testing.T) {
	b := graphtest.New(t)
	g := b.Graph

	_, ok := g.FindCategory(graph.CategoryKindComponent)
	assert.False(t, ok, "older graphs have no category yet")

	first := b.Category(graph.CategoryKindComponent)
	again := b.Category(graph.CategoryKindComponent)
	assert.Equal(t, first, again)
	assert.Len(t, g.CategoryNodes(graph.CategoryKindComponent), 1)
	assert.Empty(t, g.CategoryNodes(graph.CategoryKindFunc))
}

func TestGraph_Ordering(t *testing.T) {
	b := graphtest.New(t)
	g := b.Graph

	obj := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindProp, "object")
	b.Ordered(obj)
	x := b.Child(obj, graph.EdgeKindContain, graph.ContentKindProp, "x")
	y := b.Child(obj, graph.EdgeKindContain, graph.ContentKindProp, "y")
	z := b.Child(obj, graph.EdgeKindContain, graph.ContentKindProp, "z")

	assert.Equal(t, []common.NodeID{b.ID(x), b.ID(y), b.ID(z)}, g.EffectiveOrder(obj))

	b.Reorder(obj, z, x, y)
	assert.Equal(t, []common.NodeID{b.ID(z), b.ID(x), b.ID(y)}, g.EffectiveOrder(obj))
	children := g.Children(obj)
	assert.Equal(t, []graph.NodeIndex{z, x, y}, children[:3])

	b.RemoveEdge(obj, graph.EdgeKindContain, x)
	assert.Equal(t, []common.NodeID{b.ID(z), b.ID(y)}, g.EffectiveOrder(obj))
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	b := graphtest.New(t)
	comp := b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	b.Recalc()

	clone := b.Graph.Clone()
	b.SetContent(comp, "changed")
	b.Recalc()

	assert.NotEqual(t, clone.RootHash(), b.Graph.RootHash())
	w, err := clone.Weight(comp)
	require.NoError(t, err)
	addr, _ := w.ContentAddress()
	assert.Equal(t, graphtest.Address(t, "web"), addr)
}

func TestGraph_Knowledge(t *testing.T) {
	b := graphtest.New(t)
	before := b.Graph.Knowledge().Get(b.ClockID)

	dot := b.Dot()
	assert.Equal(t, before+1, dot.Counter)
	assert.True(t, b.Graph.Knowledge().Covers(dot))

	other := graphtest.New(t)
	other.Dot()
	b.Graph.MarkSeen(other.Graph.Knowledge())
	assert.Equal(t, other.Graph.Knowledge().Get(other.ClockID), b.Graph.Knowledge().Get(other.ClockID))
}
