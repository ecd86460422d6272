package graph

import (
	"wsgraph/common"
)

// markDirty marks idx and every ancestor of idx hash-dirty. The dirty set is
// kept closed upward, so the walk stops at nodes that are already dirty.
func (g *Graph) markDirty(idx NodeIndex) {
	stack := []NodeIndex{idx}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := g.dirty[n]; ok {
			continue
		}
		g.dirty[n] = struct{}{}
		for _, ei := range g.nodes[n].incoming {
			stack = append(stack, g.edges[ei].source)
		}
	}
}

// Touch marks idx and its ancestors dirty without changing anything.
func (g *Graph) Touch(idx NodeIndex) {
	if g.valid(idx) {
		g.markDirty(idx)
	}
}

// IsDirty reports whether idx needs rehashing.
func (g *Graph) IsDirty(idx NodeIndex) bool {
	_, ok := g.dirty[idx]
	return ok
}

// RecalculateMerkleHashes recomputes the merkle tree hash of every dirty
// node reachable from the root, children before parents. Clean subtrees are
// not entered. Dirty nodes not reachable from the root stay dirty until
// Cleanup removes them.
func (g *Graph) RecalculateMerkleHashes() {
	if len(g.dirty) == 0 || !g.valid(g.root) {
		return
	}

	type frame struct {
		idx      NodeIndex
		children []NodeIndex
		next     int
	}

	onStack := make(map[NodeIndex]struct{})
	done := make(map[NodeIndex]struct{})
	stack := []*frame{{idx: g.root}}
	onStack[g.root] = struct{}{}
	recomputed := 0

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.children == nil {
			top.children = g.Children(top.idx)
		}

		descended := false
		for top.next < len(top.children) {
			child := top.children[top.next]
			top.next++
			if !g.IsDirty(child) {
				continue
			}
			if _, ok := done[child]; ok {
				continue
			}
			if _, ok := onStack[child]; ok {
				logger.Warnf("cycle through node %s while hashing", g.nodes[child].weight.ID)
				continue
			}
			onStack[child] = struct{}{}
			stack = append(stack, &frame{idx: child})
			descended = true
			break
		}
		if descended {
			continue
		}

		g.nodes[top.idx].weight.merkle = g.computeMerkle(top.idx)
		delete(g.dirty, top.idx)
		delete(onStack, top.idx)
		done[top.idx] = struct{}{}
		stack = stack[:len(stack)-1]
		recomputed++
	}

	logger.Debugf("recalculated %d merkle hashes", recomputed)
}

// RecalculateAll marks every node dirty and recalculates.
func (g *Graph) RecalculateAll() {
	for i := range g.nodes {
		if g.nodes[i].weight != nil {
			g.dirty[NodeIndex(i)] = struct{}{}
		}
	}
	g.RecalculateMerkleHashes()
}

func (g *Graph) computeMerkle(idx NodeIndex) common.Hash {
	w := g.nodes[idx].weight
	h := common.NewHasher()
	h.WriteHash(w.NodeHash())
	for _, e := range g.childEdges(idx) {
		target := g.nodes[e.Target].weight
		h.WriteUint64(uint64(target.ID))
		h.WriteUint64(uint64(e.Weight.Kind))
		h.WriteString(e.Weight.Key)
		h.WriteHash(target.merkle)
	}
	return h.Sum()
}

// MerkleTreeHash returns the last computed merkle hash of idx.
func (g *Graph) MerkleTreeHash(idx NodeIndex) common.Hash {
	if !g.valid(idx) {
		return common.ZeroHash
	}
	return g.nodes[idx].weight.merkle
}
