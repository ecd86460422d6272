package graph

import (
	"sort"

	"wsgraph/common"
)

// Reachable returns the set of nodes reachable from the root.
func (g *Graph) Reachable() map[NodeIndex]struct{} {
	seen := make(map[NodeIndex]struct{})
	if !g.valid(g.root) {
		return seen
	}
	stack := []NodeIndex{g.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		for _, ei := range g.nodes[n].outgoing {
			stack = append(stack, g.edges[ei].target)
		}
	}
	return seen
}

// HasPathToRoot reports whether idx is the root or has an ancestor chain
// reaching it.
func (g *Graph) HasPathToRoot(idx NodeIndex) bool {
	if !g.valid(idx) {
		return false
	}
	seen := make(map[NodeIndex]struct{})
	stack := []NodeIndex{idx}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == g.root {
			return true
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		for _, ei := range g.nodes[n].incoming {
			stack = append(stack, g.edges[ei].source)
		}
	}
	return false
}

// Cleanup physically removes every node that is not reachable from the
// root, together with its edges, and returns how many nodes were removed.
func (g *Graph) Cleanup() int {
	reachable := g.Reachable()
	removed := 0
	for i := range g.nodes {
		idx := NodeIndex(i)
		if g.nodes[i].weight == nil {
			continue
		}
		if _, ok := reachable[idx]; ok {
			continue
		}
		g.removeNode(idx)
		removed++
	}
	if removed > 0 {
		logger.Debugf("cleanup removed %d unreachable nodes", removed)
	}
	return removed
}

func (g *Graph) removeNode(idx NodeIndex) {
	slot := &g.nodes[idx]
	for _, ei := range slot.outgoing {
		e := &g.edges[ei]
		e.removed = true
		if g.valid(e.target) {
			g.nodes[e.target].incoming = removeEdgeIndex(g.nodes[e.target].incoming, ei)
		}
	}
	for _, ei := range slot.incoming {
		e := &g.edges[ei]
		e.removed = true
		if g.valid(e.source) {
			g.nodes[e.source].outgoing = removeEdgeIndex(g.nodes[e.source].outgoing, ei)
			g.markDirty(e.source)
		}
	}

	delete(g.byID, slot.weight.ID)
	g.unindexLineage(slot.weight.LineageID, idx)
	delete(g.dirty, idx)
	*slot = nodeSlot{}
}

// CategoryNodes returns the category nodes of kind attached to the root,
// ordered by node id. A graph normally has at most one; two appear between
// a concurrent creation and the rebase that merges them.
func (g *Graph) CategoryNodes(kind CategoryKind) []NodeIndex {
	var out []NodeIndex
	for _, ei := range g.nodes[g.root].outgoing {
		e := g.edges[ei]
		if e.weight.Kind != EdgeKindUse {
			continue
		}
		if c, ok := g.nodes[e.target].weight.Variant.(*CategoryNode); ok && c.CategoryKind == kind {
			out = append(out, e.target)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return g.nodes[out[i]].weight.ID < g.nodes[out[j]].weight.ID
	})
	return out
}

// FindCategory returns the category node of kind. Older graphs may not have
// one yet.
func (g *Graph) FindCategory(kind CategoryKind) (NodeIndex, bool) {
	nodes := g.CategoryNodes(kind)
	if len(nodes) == 0 {
		return InvalidIndex, false
	}
	return nodes[0], true
}

// Stats summarizes a graph for logs and the debugging driver.
type Stats struct {
	Nodes     int            `json:"nodes"`
	Edges     int            `json:"edges"`
	Dirty     int            `json:"dirty"`
	RootHash  common.Hash    `json:"root_hash"`
	NodeKinds map[string]int `json:"node_kinds"`
}

// Stats returns node and edge counts and the current root hash.
func (g *Graph) Stats() Stats {
	kinds := make(map[string]int)
	for i := range g.nodes {
		if w := g.nodes[i].weight; w != nil {
			kinds[w.Kind().String()]++
		}
	}
	return Stats{
		Nodes:     g.NodeCount(),
		Edges:     g.EdgeCount(),
		Dirty:     len(g.dirty),
		RootHash:  g.RootHash(),
		NodeKinds: kinds,
	}
}
