package rebase

import (
	"fmt"

	"wsgraph/common"
	"wsgraph/graph"
)

// ConflictKind classifies a conflict.
type ConflictKind string

const (
	// ConflictNodeContent: both sides changed the same lineage's payload.
	ConflictNodeContent ConflictKind = "NODE_CONTENT"
	// ConflictChildOrder: both sides reordered the same container
	// differently.
	ConflictChildOrder ConflictKind = "CHILD_ORDER"
	// ConflictModifyRemovedItem: the to-rebase side modified an item the
	// onto side removed.
	ConflictModifyRemovedItem ConflictKind = "MODIFY_vs_REMOVE"
	// ConflictRemoveModifiedItem: the to-rebase side removed an item the
	// onto side modified.
	ConflictRemoveModifiedItem ConflictKind = "REMOVE_vs_MODIFY"
	// ConflictExclusiveEdgeMismatch: replaying the onto side's edges would
	// give a node two edges of a kind it may have only one of.
	ConflictExclusiveEdgeMismatch ConflictKind = "EXCLUSIVE_EDGE_MISMATCH"
)

// Conflict is a divergence that is never resolved automatically.
// ToRebase and Onto describe the competing versions; either is nil when
// that side no longer has the item.
type Conflict struct {
	Kind      ConflictKind     `json:"kind"`
	LineageID common.LineageID `json:"lineage_id"`
	ToRebase  *NodeInformation `json:"to_rebase,omitempty"`
	Onto      *NodeInformation `json:"onto,omitempty"`
	// Container is the to-rebase node whose children are contested.
	Container *NodeInformation `json:"container,omitempty"`
	EdgeKind  graph.EdgeKind   `json:"edge_kind,omitempty"`
	Message   string           `json:"message"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s lineage=%s: %s", c.Kind, c.LineageID, c.Message)
}

func ptr(n NodeInformation) *NodeInformation {
	return &n
}

func nodeContentConflict(toRebase, onto *graph.NodeWeight) Conflict {
	return Conflict{
		Kind:      ConflictNodeContent,
		LineageID: onto.LineageID,
		ToRebase:  ptr(nodeInfo(toRebase)),
		Onto:      ptr(nodeInfo(onto)),
		Message:   "changed on both sides",
	}
}

func childOrderConflict(container *graph.NodeWeight, toRebase, onto *graph.NodeWeight) Conflict {
	return Conflict{
		Kind:      ConflictChildOrder,
		LineageID: onto.LineageID,
		ToRebase:  ptr(nodeInfo(toRebase)),
		Onto:      ptr(nodeInfo(onto)),
		Container: ptr(nodeInfo(container)),
		Message:   "children reordered differently on both sides",
	}
}

func modifyRemovedConflict(container, item *graph.NodeWeight, ontoItem *graph.NodeWeight) Conflict {
	c := Conflict{
		Kind:      ConflictModifyRemovedItem,
		LineageID: item.LineageID,
		ToRebase:  ptr(nodeInfo(item)),
		Container: ptr(nodeInfo(container)),
		Message:   "modified here but removed on the base",
	}
	if ontoItem != nil {
		c.Onto = ptr(nodeInfo(ontoItem))
	}
	return c
}

func removeModifiedConflict(container, ontoItem *graph.NodeWeight) Conflict {
	return Conflict{
		Kind:      ConflictRemoveModifiedItem,
		LineageID: ontoItem.LineageID,
		Onto:      ptr(nodeInfo(ontoItem)),
		Container: ptr(nodeInfo(container)),
		Message:   "removed here but modified on the base",
	}
}

func exclusiveEdgeConflict(source *graph.NodeWeight, kind graph.EdgeKind, existing, incoming *NodeInformation) Conflict {
	return Conflict{
		Kind:      ConflictExclusiveEdgeMismatch,
		LineageID: source.LineageID,
		ToRebase:  existing,
		Onto:      incoming,
		Container: ptr(nodeInfo(source)),
		EdgeKind:  kind,
		Message:   fmt.Sprintf("%s may have only one outgoing %s edge", source, kind),
	}
}
