// Package graphtest builds stamped graphs for tests.
package graphtest

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"wsgraph/cas"
	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/vectorclock"
)

// Builder edits one branch of a test graph. Every write is stamped with the
// branch's clock id, the way the workspace editor does it.
type Builder struct {
	t       testing.TB
	IDs     *common.IDGenerator
	Graph   *graph.Graph
	ClockID vectorclock.ID
}

// New creates a builder holding a graph with only a root node.
func New(t testing.TB) *Builder {
	t.Helper()

	ids := common.DefaultIDGenerator()
	b := &Builder{t: t, IDs: ids, ClockID: vectorclock.NewID()}
	id, lineage := ids.NewIDs()
	root := graph.NewContentWeight(id, lineage, graph.ContentKindRoot, Address(t, "root"))
	root.Stamp(vectorclock.Dot{ID: b.ClockID, Counter: 1})

	g, err := graph.New(root)
	require.NoError(t, err)
	b.Graph = g
	return b
}

// Fork returns a builder for a new branch starting at the current state.
func (b *Builder) Fork() *Builder {
	b.Recalc()
	return &Builder{
		t:       b.t,
		IDs:     b.IDs,
		Graph:   b.Graph.Clone(),
		ClockID: vectorclock.NewID(),
	}
}

// Address returns the content address of payload.
func Address(t testing.TB, payload string) cid.Cid {
	t.Helper()
	addr, err := cas.Address([]byte(payload))
	require.NoError(t, err)
	return addr
}

// Dot hands out the next stamp for this branch.
func (b *Builder) Dot() vectorclock.Dot {
	return b.Graph.NextDot(b.ClockID)
}

// Root returns the root index.
func (b *Builder) Root() graph.NodeIndex {
	return b.Graph.Root()
}

// Node adds a detached content node.
func (b *Builder) Node(kind graph.ContentKind, payload string) graph.NodeIndex {
	b.t.Helper()
	id, lineage := b.IDs.NewIDs()
	w := graph.NewContentWeight(id, lineage, kind, Address(b.t, payload))
	w.Stamp(b.Dot())
	idx, err := b.Graph.AddOrReplaceNode(w)
	require.NoError(b.t, err)
	return idx
}

// Child adds a content node under parent with an edge of kind.
func (b *Builder) Child(parent graph.NodeIndex, kind graph.EdgeKind, content graph.ContentKind, payload string) graph.NodeIndex {
	b.t.Helper()
	idx := b.Node(content, payload)
	b.Edge(parent, kind, idx)
	return idx
}

// Edge adds source -> target.
func (b *Builder) Edge(source graph.NodeIndex, kind graph.EdgeKind, target graph.NodeIndex) {
	b.t.Helper()
	_, err := b.Graph.AddOrderedEdge(source, graph.NewEdgeWeight(kind, b.Dot()), target)
	require.NoError(b.t, err)
}

// RemoveEdge removes source -> target.
func (b *Builder) RemoveEdge(source graph.NodeIndex, kind graph.EdgeKind, target graph.NodeIndex) {
	b.t.Helper()
	n, err := b.Graph.RemoveOrderedEdge(source, kind, target, b.Dot())
	require.NoError(b.t, err)
	require.Positive(b.t, n)
}

// SetContent points idx at payload's address and stamps the write.
func (b *Builder) SetContent(idx graph.NodeIndex, payload string) {
	b.t.Helper()
	w := b.Graph.MustWeight(idx).Clone()
	content, ok := w.Variant.(*graph.ContentNode)
	require.True(b.t, ok, "node %s is not a content node", w.ID)
	content.Address = Address(b.t, payload)
	w.Stamp(b.Dot())
	_, err := b.Graph.AddOrReplaceNode(w)
	require.NoError(b.t, err)
}

// Ordered attaches an ordering node to container.
func (b *Builder) Ordered(container graph.NodeIndex) graph.NodeIndex {
	b.t.Helper()
	id, lineage := b.IDs.NewIDs()
	idx, err := b.Graph.AttachOrderingNode(container, graph.NewOrderingWeight(id, lineage, nil), b.Dot())
	require.NoError(b.t, err)
	return idx
}

// Reorder rewrites container's order.
func (b *Builder) Reorder(container graph.NodeIndex, children ...graph.NodeIndex) {
	b.t.Helper()
	order := make([]common.NodeID, 0, len(children))
	for _, c := range children {
		order = append(order, b.Graph.MustWeight(c).ID)
	}
	require.NoError(b.t, b.Graph.SetOrder(container, order, b.Dot()))
}

// Category finds or creates the category node of kind.
func (b *Builder) Category(kind graph.CategoryKind) graph.NodeIndex {
	b.t.Helper()
	if idx, ok := b.Graph.FindCategory(kind); ok {
		return idx
	}
	id, lineage := b.IDs.NewIDs()
	w := graph.NewCategoryWeight(id, lineage, kind)
	w.Stamp(b.Dot())
	idx, err := b.Graph.AddOrReplaceNode(w)
	require.NoError(b.t, err)
	b.Edge(b.Root(), graph.EdgeKindUse, idx)
	return idx
}

// ID returns the node id at idx.
func (b *Builder) ID(idx graph.NodeIndex) common.NodeID {
	return b.Graph.MustWeight(idx).ID
}

// Lineage returns the lineage id at idx.
func (b *Builder) Lineage(idx graph.NodeIndex) common.LineageID {
	return b.Graph.MustWeight(idx).LineageID
}

// Index resolves a node id.
func (b *Builder) Index(id common.NodeID) graph.NodeIndex {
	b.t.Helper()
	idx, err := b.Graph.NodeIndexByID(id)
	require.NoError(b.t, err)
	return idx
}

// Recalc recalculates merkle hashes.
func (b *Builder) Recalc() {
	b.Graph.RecalculateMerkleHashes()
}
