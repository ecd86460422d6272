// Package graph implements the workspace snapshot graph: an arena of node
// weights addressed by index, with id and lineage lookup tables, typed
// edges, and merkle tree hashes used to skip unchanged subtrees.
//
// A Graph is not safe for concurrent mutation. The caller serializes writes
// per change set.
package graph

import (
	"iter"
	"sort"

	logging "github.com/ipfs/go-log/v2"

	"wsgraph/common"
	"wsgraph/vectorclock"
)

var logger = logging.Logger("graph")

// NodeIndex addresses a node slot. Indices are stable for the life of a
// Graph value and are never reused.
type NodeIndex int

// InvalidIndex is returned alongside errors.
const InvalidIndex NodeIndex = -1

type nodeSlot struct {
	weight   *NodeWeight
	outgoing []EdgeIndex
	incoming []EdgeIndex
}

type edgeSlot struct {
	source  NodeIndex
	target  NodeIndex
	weight  EdgeWeight
	removed bool
}

// Graph is one version of a change set's workspace graph.
type Graph struct {
	nodes     []nodeSlot
	edges     []edgeSlot
	root      NodeIndex
	byID      map[common.NodeID]NodeIndex
	byLineage map[common.LineageID]map[NodeIndex]struct{}
	dirty     map[NodeIndex]struct{}
	knowledge vectorclock.VectorClock
}

// New creates a graph holding only root.
func New(root *NodeWeight) (*Graph, error) {
	if root == nil || root.Variant == nil {
		return nil, common.ErrInvalidGraph{Message: "root weight is required"}
	}

	g := newEmpty()
	idx, err := g.AddOrReplaceNode(root)
	if err != nil {
		return nil, err
	}
	g.root = idx
	for id, counter := range root.Write {
		g.knowledge.Update(vectorclock.Dot{ID: id, Counter: counter})
	}
	g.RecalculateMerkleHashes()
	return g, nil
}

func newEmpty() *Graph {
	return &Graph{
		root:      InvalidIndex,
		byID:      make(map[common.NodeID]NodeIndex),
		byLineage: make(map[common.LineageID]map[NodeIndex]struct{}),
		dirty:     make(map[NodeIndex]struct{}),
		knowledge: vectorclock.New(),
	}
}

// Root returns the root node index.
func (g *Graph) Root() NodeIndex {
	return g.root
}

// RootHash returns the root's merkle tree hash as of the last
// recalculation.
func (g *Graph) RootHash() common.Hash {
	return g.nodes[g.root].weight.merkle
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int {
	return len(g.byID)
}

// EdgeCount returns the number of live edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for i := range g.edges {
		if !g.edges[i].removed {
			n++
		}
	}
	return n
}

func (g *Graph) valid(idx NodeIndex) bool {
	return idx >= 0 && int(idx) < len(g.nodes) && g.nodes[idx].weight != nil
}

func (g *Graph) checkIndex(idx NodeIndex) error {
	if !g.valid(idx) {
		return common.ErrInvalidGraph{Message: "stale or unknown node index"}
	}
	return nil
}

// AddOrReplaceNode inserts weight, or replaces the weight of the node with
// the same id in place. The node and its ancestors are marked dirty.
func (g *Graph) AddOrReplaceNode(weight *NodeWeight) (NodeIndex, error) {
	if weight == nil || weight.Variant == nil {
		return InvalidIndex, common.ErrInvalidGraph{Message: "node weight without variant"}
	}

	if idx, ok := g.byID[weight.ID]; ok {
		old := g.nodes[idx].weight
		if old.LineageID != weight.LineageID {
			g.unindexLineage(old.LineageID, idx)
			g.indexLineage(weight.LineageID, idx)
		}
		g.nodes[idx].weight = weight
		g.markDirty(idx)
		return idx, nil
	}

	idx := NodeIndex(len(g.nodes))
	g.nodes = append(g.nodes, nodeSlot{weight: weight})
	g.byID[weight.ID] = idx
	g.indexLineage(weight.LineageID, idx)
	g.markDirty(idx)
	return idx, nil
}

// ReplaceNode swaps the weight at idx for weight, which may carry a new
// node id. Edges stay attached to the index.
func (g *Graph) ReplaceNode(idx NodeIndex, weight *NodeWeight) error {
	if err := g.checkIndex(idx); err != nil {
		return err
	}
	if weight == nil || weight.Variant == nil {
		return common.ErrInvalidGraph{Message: "node weight without variant"}
	}
	if other, ok := g.byID[weight.ID]; ok && other != idx {
		return common.ErrInvalidGraph{Message: "node id " + weight.ID.String() + " already present"}
	}

	old := g.nodes[idx].weight
	delete(g.byID, old.ID)
	g.unindexLineage(old.LineageID, idx)
	if old.ID != weight.ID {
		g.remapOrderings(idx, old.ID, weight.ID)
	}

	g.nodes[idx].weight = weight
	g.byID[weight.ID] = idx
	g.indexLineage(weight.LineageID, idx)
	g.markDirty(idx)
	return nil
}

func (g *Graph) indexLineage(lineage common.LineageID, idx NodeIndex) {
	set, ok := g.byLineage[lineage]
	if !ok {
		set = make(map[NodeIndex]struct{})
		g.byLineage[lineage] = set
	}
	set[idx] = struct{}{}
}

func (g *Graph) unindexLineage(lineage common.LineageID, idx NodeIndex) {
	set := g.byLineage[lineage]
	delete(set, idx)
	if len(set) == 0 {
		delete(g.byLineage, lineage)
	}
}

// NodeIndexByID resolves a node id.
func (g *Graph) NodeIndexByID(id common.NodeID) (NodeIndex, error) {
	idx, ok := g.byID[id]
	if !ok {
		return InvalidIndex, common.ErrNodeNotFound{ID: id}
	}
	return idx, nil
}

// NodeIndicesByLineage returns every live node carrying lineage, in index
// order.
func (g *Graph) NodeIndicesByLineage(lineage common.LineageID) []NodeIndex {
	set := g.byLineage[lineage]
	out := make([]NodeIndex, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetNodeWeight returns a copy of the weight of node id.
func (g *Graph) GetNodeWeight(id common.NodeID) (*NodeWeight, error) {
	idx, err := g.NodeIndexByID(id)
	if err != nil {
		return nil, err
	}
	return g.nodes[idx].weight.Clone(), nil
}

// Weight returns the weight stored at idx. The returned value must not be
// mutated; use AddOrReplaceNode with a clone instead.
func (g *Graph) Weight(idx NodeIndex) (*NodeWeight, error) {
	if err := g.checkIndex(idx); err != nil {
		return nil, err
	}
	return g.nodes[idx].weight, nil
}

// MustWeight is Weight for indices obtained from this graph.
func (g *Graph) MustWeight(idx NodeIndex) *NodeWeight {
	w, err := g.Weight(idx)
	if err != nil {
		panic(err)
	}
	return w
}

// AddEdge adds source -> target. Adding an edge that already exists with the
// same kind and key is a no-op and reports false.
func (g *Graph) AddEdge(source NodeIndex, weight EdgeWeight, target NodeIndex) (bool, error) {
	if err := g.checkIndex(source); err != nil {
		return false, err
	}
	if err := g.checkIndex(target); err != nil {
		return false, err
	}
	if source == target {
		return false, common.ErrInvalidGraph{Message: "self edge"}
	}

	for _, ei := range g.nodes[source].outgoing {
		e := &g.edges[ei]
		if e.target == target && e.weight.Kind == weight.Kind && e.weight.Key == weight.Key {
			return false, nil
		}
	}

	ei := EdgeIndex(len(g.edges))
	g.edges = append(g.edges, edgeSlot{source: source, target: target, weight: weight})
	g.nodes[source].outgoing = append(g.nodes[source].outgoing, ei)
	g.nodes[target].incoming = append(g.nodes[target].incoming, ei)
	g.knowledge.Update(weight.Dot)
	g.markDirty(source)
	return true, nil
}

// RemoveEdge removes every source -> target edge of kind and returns how
// many were removed. The ordering node of source is left alone; callers that
// own a stamp use RemoveOrderedEdge.
func (g *Graph) RemoveEdge(source NodeIndex, kind EdgeKind, target NodeIndex) (int, error) {
	if err := g.checkIndex(source); err != nil {
		return 0, err
	}
	if err := g.checkIndex(target); err != nil {
		return 0, err
	}

	removed := 0
	kept := g.nodes[source].outgoing[:0]
	for _, ei := range g.nodes[source].outgoing {
		e := &g.edges[ei]
		if e.target == target && e.weight.Kind == kind {
			e.removed = true
			g.nodes[target].incoming = removeEdgeIndex(g.nodes[target].incoming, ei)
			removed++
			continue
		}
		kept = append(kept, ei)
	}
	g.nodes[source].outgoing = kept

	if removed > 0 {
		g.markDirty(source)
	}
	return removed, nil
}

func removeEdgeIndex(list []EdgeIndex, ei EdgeIndex) []EdgeIndex {
	for i, v := range list {
		if v == ei {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (g *Graph) edgeRef(ei EdgeIndex) EdgeRef {
	e := g.edges[ei]
	return EdgeRef{Index: ei, Source: e.source, Target: e.target, Weight: e.weight}
}

// OutgoingEdges returns the live outgoing edges of idx in insertion order.
func (g *Graph) OutgoingEdges(idx NodeIndex) []EdgeRef {
	if !g.valid(idx) {
		return nil
	}
	out := make([]EdgeRef, 0, len(g.nodes[idx].outgoing))
	for _, ei := range g.nodes[idx].outgoing {
		out = append(out, g.edgeRef(ei))
	}
	return out
}

// IncomingEdges returns the live incoming edges of idx.
func (g *Graph) IncomingEdges(idx NodeIndex) []EdgeRef {
	if !g.valid(idx) {
		return nil
	}
	out := make([]EdgeRef, 0, len(g.nodes[idx].incoming))
	for _, ei := range g.nodes[idx].incoming {
		out = append(out, g.edgeRef(ei))
	}
	return out
}

// OutgoingTargets yields the ids of nodes reached from id over edges of
// kind. The sequence reads the graph lazily and must not be resumed after a
// mutation.
func (g *Graph) OutgoingTargets(id common.NodeID, kind EdgeKind) iter.Seq[common.NodeID] {
	return func(yield func(common.NodeID) bool) {
		idx, ok := g.byID[id]
		if !ok {
			return
		}
		for _, ei := range g.nodes[idx].outgoing {
			e := g.edges[ei]
			if e.weight.Kind != kind {
				continue
			}
			if !yield(g.nodes[e.target].weight.ID) {
				return
			}
		}
	}
}

// Knowledge returns a copy of the writes this graph version incorporates.
func (g *Graph) Knowledge() vectorclock.VectorClock {
	return g.knowledge.Copy()
}

// Observe records that the write named by dot is part of this version.
func (g *Graph) Observe(dot vectorclock.Dot) {
	g.knowledge.Update(dot)
}

// MarkSeen merges another version's knowledge into this one, after its
// changes have been incorporated by a rebase.
func (g *Graph) MarkSeen(other vectorclock.VectorClock) {
	g.knowledge.Merge(other)
}

// NextDot returns a stamp for id one past the graph's knowledge and records
// it.
func (g *Graph) NextDot(id vectorclock.ID) vectorclock.Dot {
	dot := vectorclock.Dot{ID: id, Counter: g.knowledge.Get(id) + 1}
	g.knowledge.Update(dot)
	return dot
}

// Clone returns an independent deep copy.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		nodes:     make([]nodeSlot, len(g.nodes)),
		edges:     make([]edgeSlot, len(g.edges)),
		root:      g.root,
		byID:      make(map[common.NodeID]NodeIndex, len(g.byID)),
		byLineage: make(map[common.LineageID]map[NodeIndex]struct{}, len(g.byLineage)),
		dirty:     make(map[NodeIndex]struct{}, len(g.dirty)),
		knowledge: g.knowledge.Copy(),
	}
	for i, slot := range g.nodes {
		cp := nodeSlot{
			outgoing: append([]EdgeIndex(nil), slot.outgoing...),
			incoming: append([]EdgeIndex(nil), slot.incoming...),
		}
		if slot.weight != nil {
			cp.weight = slot.weight.Clone()
		}
		out.nodes[i] = cp
	}
	copy(out.edges, g.edges)
	for id, idx := range g.byID {
		out.byID[id] = idx
	}
	for lineage, set := range g.byLineage {
		cp := make(map[NodeIndex]struct{}, len(set))
		for idx := range set {
			cp[idx] = struct{}{}
		}
		out.byLineage[lineage] = cp
	}
	for idx := range g.dirty {
		out.dirty[idx] = struct{}{}
	}
	return out
}
