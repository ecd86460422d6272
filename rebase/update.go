// Package rebase detects conflicts and structural updates between two
// versions of a workspace graph and applies the updates.
package rebase

import (
	"fmt"

	"wsgraph/common"
	"wsgraph/graph"
)

// NodeInformation identifies one side's version of a node.
type NodeInformation struct {
	ID        common.NodeID    `json:"id"`
	LineageID common.LineageID `json:"lineage_id"`
	Kind      string           `json:"kind"`
}

func nodeInfo(w *graph.NodeWeight) NodeInformation {
	kind := w.Kind().String()
	if c, ok := w.Variant.(*graph.ContentNode); ok {
		kind = c.ContentKind.String()
	}
	if c, ok := w.Variant.(*graph.CategoryNode); ok {
		kind = "category:" + c.CategoryKind.String()
	}
	return NodeInformation{ID: w.ID, LineageID: w.LineageID, Kind: kind}
}

func (n NodeInformation) String() string {
	return fmt.Sprintf("%s %s (lineage %s)", n.Kind, n.ID, n.LineageID)
}

// UpdateKind classifies a structural update.
type UpdateKind string

const (
	// UpdateNewEdge replays an edge added on the onto side.
	UpdateNewEdge UpdateKind = "NEW_EDGE"
	// UpdateRemoveEdge replays an edge removed on the onto side.
	UpdateRemoveEdge UpdateKind = "REMOVE_EDGE"
	// UpdateReplaceSubgraph takes the onto version of a node that strictly
	// dominates the to-rebase version.
	UpdateReplaceSubgraph UpdateKind = "REPLACE_SUBGRAPH"
	// UpdateMergeCategoryNodes folds two independently created category
	// nodes of the same kind into one.
	UpdateMergeCategoryNodes UpdateKind = "MERGE_CATEGORY_NODES"
)

// applyOrder is the order in which PerformUpdates applies update kinds.
var applyOrder = []UpdateKind{
	UpdateRemoveEdge,
	UpdateReplaceSubgraph,
	UpdateNewEdge,
	UpdateMergeCategoryNodes,
}

// Update is one structural change to replay onto the to-rebase graph.
//
// Edge updates set Source and Destination; Source always names the
// to-rebase node. For NewEdge, Destination names the onto node, for
// RemoveEdge the to-rebase node. Node updates set ToRebase and Onto.
type Update struct {
	Kind        UpdateKind        `json:"kind"`
	Source      *NodeInformation  `json:"source,omitempty"`
	Destination *NodeInformation  `json:"destination,omitempty"`
	Edge        *graph.EdgeWeight `json:"edge,omitempty"`
	ToRebase    *NodeInformation  `json:"to_rebase,omitempty"`
	Onto        *NodeInformation  `json:"onto,omitempty"`
}

func (u Update) String() string {
	switch u.Kind {
	case UpdateNewEdge, UpdateRemoveEdge:
		return fmt.Sprintf("%s %s -[%s]-> %s", u.Kind, u.Source.ID, u.Edge, u.Destination.ID)
	default:
		return fmt.Sprintf("%s %s <- %s", u.Kind, u.ToRebase.ID, u.Onto.ID)
	}
}

// ConflictsAndUpdates is the result of detection.
type ConflictsAndUpdates struct {
	Conflicts []Conflict `json:"conflicts"`
	Updates   []Update   `json:"updates"`
}

// Clean reports whether no conflicts were found.
func (c ConflictsAndUpdates) Clean() bool {
	return len(c.Conflicts) == 0
}

// IsEmpty reports whether there is nothing to apply or resolve.
func (c ConflictsAndUpdates) IsEmpty() bool {
	return len(c.Conflicts) == 0 && len(c.Updates) == 0
}

// Count returns the number of updates of each kind.
func (c ConflictsAndUpdates) Count() map[UpdateKind]int {
	out := make(map[UpdateKind]int)
	for _, u := range c.Updates {
		out[u.Kind]++
	}
	return out
}
