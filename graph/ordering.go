package graph

import (
	"sort"

	"wsgraph/common"
	"wsgraph/vectorclock"
)

// OrderingNodeFor returns the ordering node attached to container, if any.
func (g *Graph) OrderingNodeFor(container NodeIndex) (NodeIndex, bool) {
	if !g.valid(container) {
		return InvalidIndex, false
	}
	for _, ei := range g.nodes[container].outgoing {
		e := g.edges[ei]
		if e.weight.Kind != EdgeKindOrdering {
			continue
		}
		if _, ok := g.nodes[e.target].weight.Variant.(*OrderingNode); ok {
			return e.target, true
		}
	}
	return InvalidIndex, false
}

func (g *Graph) orderOf(container NodeIndex) []common.NodeID {
	oi, ok := g.OrderingNodeFor(container)
	if !ok {
		return nil
	}
	return g.nodes[oi].weight.Variant.(*OrderingNode).Order
}

// EffectiveOrder returns the container's ordered children: the ids named by
// its ordering node that are still live targets of an ordered edge, in
// order. Stale entries are skipped.
func (g *Graph) EffectiveOrder(container NodeIndex) []common.NodeID {
	order := g.orderOf(container)
	if len(order) == 0 {
		return nil
	}

	live := make(map[common.NodeID]struct{})
	for _, ei := range g.nodes[container].outgoing {
		e := g.edges[ei]
		if e.weight.Kind.IsOrdered() {
			live[g.nodes[e.target].weight.ID] = struct{}{}
		}
	}

	out := make([]common.NodeID, 0, len(order))
	seen := make(map[common.NodeID]struct{}, len(order))
	for _, id := range order {
		if _, ok := live[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// AttachOrderingNode adds weight as container's ordering node.
func (g *Graph) AttachOrderingNode(container NodeIndex, weight *NodeWeight, dot vectorclock.Dot) (NodeIndex, error) {
	if err := g.checkIndex(container); err != nil {
		return InvalidIndex, err
	}
	if _, ok := weight.Variant.(*OrderingNode); !ok {
		return InvalidIndex, common.ErrInvalidGraph{Message: "ordering edge to a non-ordering node"}
	}
	if existing, ok := g.OrderingNodeFor(container); ok {
		return existing, nil
	}

	weight.Stamp(dot)
	g.Observe(dot)
	idx, err := g.AddOrReplaceNode(weight)
	if err != nil {
		return InvalidIndex, err
	}
	if _, err := g.AddEdge(container, NewEdgeWeight(EdgeKindOrdering, dot), idx); err != nil {
		return InvalidIndex, err
	}
	return idx, nil
}

// SetOrder rewrites the container's ordering node, stamping it with dot.
func (g *Graph) SetOrder(container NodeIndex, order []common.NodeID, dot vectorclock.Dot) error {
	oi, ok := g.OrderingNodeFor(container)
	if !ok {
		return common.ErrInvalidGraph{Message: "container has no ordering node"}
	}

	w := g.nodes[oi].weight.Clone()
	w.Variant = &OrderingNode{Order: append([]common.NodeID(nil), order...)}
	w.Stamp(dot)
	g.Observe(dot)
	_, err := g.AddOrReplaceNode(w)
	return err
}

// AddOrderedEdge adds an ordered edge and appends child to the container's
// order when the container has an ordering node.
func (g *Graph) AddOrderedEdge(container NodeIndex, weight EdgeWeight, child NodeIndex) (bool, error) {
	added, err := g.AddEdge(container, weight, child)
	if err != nil || !added || !weight.Kind.IsOrdered() {
		return added, err
	}

	if _, ok := g.OrderingNodeFor(container); !ok {
		return true, nil
	}
	order := g.orderOf(container)
	childID := g.nodes[child].weight.ID
	for _, id := range order {
		if id == childID {
			return true, nil
		}
	}
	next := append(append([]common.NodeID(nil), order...), childID)
	return true, g.SetOrder(container, next, weight.Dot)
}

// RemoveOrderedEdge removes container -> child of kind and drops child from
// the container's order, stamping the ordering node with dot.
func (g *Graph) RemoveOrderedEdge(container NodeIndex, kind EdgeKind, child NodeIndex, dot vectorclock.Dot) (int, error) {
	removed, err := g.RemoveEdge(container, kind, child)
	if err != nil || removed == 0 || !kind.IsOrdered() {
		return removed, err
	}
	if _, ok := g.OrderingNodeFor(container); !ok {
		return removed, nil
	}

	childID := g.nodes[child].weight.ID
	order := g.orderOf(container)
	next := make([]common.NodeID, 0, len(order))
	for _, id := range order {
		if id != childID {
			next = append(next, id)
		}
	}
	if len(next) == len(order) {
		return removed, nil
	}
	return removed, g.SetOrder(container, next, dot)
}

// remapOrderings rewrites every ordering that names oldID to name newID
// instead. The ordering node's clock is left alone.
func (g *Graph) remapOrderings(idx NodeIndex, oldID, newID common.NodeID) {
	for _, ei := range g.nodes[idx].incoming {
		parent := g.edges[ei].source
		oi, ok := g.OrderingNodeFor(parent)
		if !ok {
			continue
		}
		ord := g.nodes[oi].weight.Variant.(*OrderingNode)
		for i, id := range ord.Order {
			if id == oldID {
				ord.Order[i] = newID
				g.markDirty(oi)
			}
		}
	}
}

// childEdges returns the outgoing edges of idx in child order: ordered
// children by position in the effective order, then the rest by
// (target id, kind, key).
func (g *Graph) childEdges(idx NodeIndex) []EdgeRef {
	edges := g.OutgoingEdges(idx)
	order := g.orderOf(idx)
	position := make(map[common.NodeID]int, len(order))
	for i, id := range order {
		if _, dup := position[id]; !dup {
			position[id] = i
		}
	}

	rank := func(e EdgeRef) (int, bool) {
		if !e.Weight.Kind.IsOrdered() {
			return 0, false
		}
		p, ok := position[g.nodes[e.Target].weight.ID]
		return p, ok
	}

	sort.SliceStable(edges, func(i, j int) bool {
		pi, oi := rank(edges[i])
		pj, oj := rank(edges[j])
		switch {
		case oi && oj:
			if pi != pj {
				return pi < pj
			}
		case oi:
			return true
		case oj:
			return false
		}
		ti := g.nodes[edges[i].Target].weight.ID
		tj := g.nodes[edges[j].Target].weight.ID
		if ti != tj {
			return ti < tj
		}
		if edges[i].Weight.Kind != edges[j].Weight.Kind {
			return edges[i].Weight.Kind < edges[j].Weight.Kind
		}
		return edges[i].Weight.Key < edges[j].Weight.Key
	})
	return edges
}

// Children returns the child node indices of idx in child order.
func (g *Graph) Children(idx NodeIndex) []NodeIndex {
	edges := g.childEdges(idx)
	out := make([]NodeIndex, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Target)
	}
	return out
}
