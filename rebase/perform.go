package rebase

import (
	"context"
	"fmt"
	"slices"

	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/vectorclock"
)

type performer struct {
	work     *graph.Graph
	onto     *graph.Graph
	clockID  vectorclock.ID
	remapped map[common.NodeID]common.NodeID
	// onto node index -> work node index, for subtrees imported so far
	imported map[graph.NodeIndex]graph.NodeIndex
}

// PerformUpdates applies updates to toRebase and returns the new root hash.
// The updates are applied to a copy in the order removals, replacements,
// additions, category merges; toRebase is replaced by the result only when
// every update applied. Updates must come from a detection with no
// conflicts; use Apply to have that checked.
//
// Writes the engine makes itself, such as reordering a container for an
// added child, are stamped with toRebaseClockID.
func PerformUpdates(
	ctx context.Context,
	toRebase *graph.Graph,
	toRebaseClockID vectorclock.ID,
	onto *graph.Graph,
	updates []Update,
) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.ZeroHash, err
	}

	p := &performer{
		work:     toRebase.Clone(),
		onto:     onto,
		clockID:  toRebaseClockID,
		remapped: make(map[common.NodeID]common.NodeID),
		imported: make(map[graph.NodeIndex]graph.NodeIndex),
	}

	for _, kind := range applyOrder {
		for _, u := range updates {
			if u.Kind != kind {
				continue
			}
			if err := p.apply(u); err != nil {
				return common.ZeroHash, fmt.Errorf("failed to apply %s: %w", u, err)
			}
		}
	}

	p.work.MarkSeen(onto.Knowledge())
	if n := p.work.Cleanup(); n > 0 {
		logger.Debugf("removed %d nodes orphaned by the rebase", n)
	}
	p.work.RecalculateMerkleHashes()

	*toRebase = *p.work
	return toRebase.RootHash(), nil
}

// Apply applies a detection result, refusing results that carry
// conflicts.
func Apply(
	ctx context.Context,
	toRebase *graph.Graph,
	toRebaseClockID vectorclock.ID,
	onto *graph.Graph,
	result ConflictsAndUpdates,
) (common.Hash, error) {
	if !result.Clean() {
		return common.ZeroHash, fmt.Errorf("%w: %d conflicts", ErrUnresolvedConflicts, len(result.Conflicts))
	}
	return PerformUpdates(ctx, toRebase, toRebaseClockID, onto, result.Updates)
}

func (p *performer) apply(u Update) error {
	switch u.Kind {
	case UpdateRemoveEdge:
		return p.removeEdge(u)
	case UpdateReplaceSubgraph:
		return p.replaceSubgraph(u)
	case UpdateNewEdge:
		return p.newEdge(u)
	case UpdateMergeCategoryNodes:
		return p.mergeCategories(u)
	default:
		return fmt.Errorf("unknown update kind %q", u.Kind)
	}
}

// resolve finds the work graph node for a to-rebase node, following
// replacements and falling back to the lineage.
func (p *performer) resolve(info *NodeInformation) (graph.NodeIndex, error) {
	if info == nil {
		return graph.InvalidIndex, common.ErrInvalidGraph{Message: "update without node information"}
	}

	id := info.ID
	for range len(p.remapped) {
		next, ok := p.remapped[id]
		if !ok {
			break
		}
		id = next
	}
	if idx, err := p.work.NodeIndexByID(id); err == nil {
		return idx, nil
	}
	for _, idx := range p.work.NodeIndicesByLineage(info.LineageID) {
		if p.work.HasPathToRoot(idx) {
			return idx, nil
		}
	}
	return graph.InvalidIndex, common.ErrLineageNotFound{ID: info.LineageID}
}

func (p *performer) ontoIndex(info *NodeInformation) (graph.NodeIndex, error) {
	if info == nil {
		return graph.InvalidIndex, common.ErrInvalidGraph{Message: "update without node information"}
	}
	return p.onto.NodeIndexByID(info.ID)
}

func (p *performer) nextDot() vectorclock.Dot {
	return p.work.NextDot(p.clockID)
}

func (p *performer) removeEdge(u Update) error {
	source, err := p.resolve(u.Source)
	if err != nil {
		return err
	}
	target, err := p.resolve(u.Destination)
	if err != nil {
		return err
	}

	_, err = p.work.RemoveOrderedEdge(source, u.Edge.Kind, target, p.nextDot())
	return err
}

func (p *performer) replaceSubgraph(u Update) error {
	idx, err := p.resolve(u.ToRebase)
	if err != nil {
		return err
	}
	ontoIdx, err := p.ontoIndex(u.Onto)
	if err != nil {
		return err
	}

	current := p.work.MustWeight(idx)
	replacement := p.onto.MustWeight(ontoIdx).Clone()
	if replacement.ID != current.ID {
		p.remapped[current.ID] = replacement.ID
	}
	p.imported[ontoIdx] = idx
	return p.work.ReplaceNode(idx, replacement)
}

func (p *performer) newEdge(u Update) error {
	source, err := p.resolve(u.Source)
	if err != nil {
		return err
	}
	ontoTarget, err := p.ontoIndex(u.Destination)
	if err != nil {
		return err
	}
	target, err := p.importSubtree(ontoTarget)
	if err != nil {
		return err
	}

	added, err := p.work.AddEdge(source, *u.Edge, target)
	if err != nil || !added || !u.Edge.Kind.IsOrdered() {
		return err
	}
	return p.insertOrdered(source, u.Source, ontoTarget, target)
}

// insertOrdered places target in the source's order after the closest
// preceding sibling it has in the onto order.
func (p *performer) insertOrdered(source graph.NodeIndex, sourceInfo *NodeInformation, ontoTarget, target graph.NodeIndex) error {
	if _, ok := p.work.OrderingNodeFor(source); !ok {
		return nil
	}

	var ontoOrder []common.NodeID
	var ontoOrdering *graph.NodeWeight
	if indices := p.onto.NodeIndicesByLineage(sourceInfo.LineageID); len(indices) > 0 {
		ontoOrder = p.onto.EffectiveOrder(indices[0])
		if oi, ok := p.onto.OrderingNodeFor(indices[0]); ok {
			ontoOrdering = p.onto.MustWeight(oi)
		}
	}

	current := p.work.EffectiveOrder(source)
	targetNodeID := p.work.MustWeight(target).ID
	if slices.Contains(current, targetNodeID) {
		return nil
	}
	position := make(map[common.LineageID]int, len(current))
	for i, id := range current {
		if w, err := p.work.GetNodeWeight(id); err == nil {
			position[w.LineageID] = i
		}
	}

	insertAt := len(current)
	targetID := p.onto.MustWeight(ontoTarget).ID
	for i, id := range ontoOrder {
		if id != targetID {
			continue
		}
		insertAt = 0
		for j := i - 1; j >= 0; j-- {
			w, err := p.onto.GetNodeWeight(ontoOrder[j])
			if err != nil {
				continue
			}
			if pos, ok := position[w.LineageID]; ok {
				insertAt = pos + 1
				break
			}
		}
		break
	}

	next := make([]common.NodeID, 0, len(current)+1)
	next = append(next, current[:insertAt]...)
	next = append(next, targetNodeID)
	next = append(next, current[insertAt:]...)

	if err := p.work.SetOrder(source, next, p.nextDot()); err != nil {
		return err
	}
	if ontoOrdering != nil {
		oi, _ := p.work.OrderingNodeFor(source)
		w := p.work.MustWeight(oi).Clone()
		w.Write.Merge(ontoOrdering.Write)
		_, err := p.work.AddOrReplaceNode(w)
		return err
	}
	return nil
}

// importSubtree returns the work node for an onto node, copying the onto
// subtree where the work graph has no node of the same lineage. A node the
// work graph already has is kept unless the onto version strictly
// dominates it.
func (p *performer) importSubtree(ontoIdx graph.NodeIndex) (graph.NodeIndex, error) {
	if idx, ok := p.imported[ontoIdx]; ok {
		return idx, nil
	}

	ontoW := p.onto.MustWeight(ontoIdx)
	if idx, err := p.work.NodeIndexByID(ontoW.ID); err == nil {
		p.imported[ontoIdx] = idx
		return idx, p.takeIfDominated(idx, ontoW)
	}
	if existing := p.work.NodeIndicesByLineage(ontoW.LineageID); len(existing) > 0 {
		p.imported[ontoIdx] = existing[0]
		return existing[0], p.takeIfDominated(existing[0], ontoW)
	}

	idx, err := p.work.AddOrReplaceNode(ontoW.Clone())
	if err != nil {
		return graph.InvalidIndex, err
	}
	p.imported[ontoIdx] = idx

	for _, e := range p.onto.OutgoingEdges(ontoIdx) {
		child, err := p.importSubtree(e.Target)
		if err != nil {
			return graph.InvalidIndex, err
		}
		if _, err := p.work.AddEdge(idx, e.Weight, child); err != nil {
			return graph.InvalidIndex, err
		}
	}
	return idx, nil
}

func (p *performer) takeIfDominated(idx graph.NodeIndex, ontoW *graph.NodeWeight) error {
	current := p.work.MustWeight(idx)
	if vectorclock.Compare(current.Write, ontoW.Write) != vectorclock.Before {
		return nil
	}
	if current.ID != ontoW.ID {
		if _, err := p.work.NodeIndexByID(ontoW.ID); err == nil {
			return nil
		}
		p.remapped[current.ID] = ontoW.ID
	}
	return p.work.ReplaceNode(idx, ontoW.Clone())
}

// mergeCategories folds the to-rebase category node into the onto one: the
// onto category and its subtree are imported, the to-rebase category's
// edges are moved over, and the to-rebase category is left to cleanup.
func (p *performer) mergeCategories(u Update) error {
	local, err := p.resolve(u.ToRebase)
	if err != nil {
		return err
	}
	ontoIdx, err := p.ontoIndex(u.Onto)
	if err != nil {
		return err
	}

	merged, err := p.importSubtree(ontoIdx)
	if err != nil {
		return err
	}
	if merged == local {
		return nil
	}

	for _, e := range p.work.OutgoingEdges(local) {
		if _, err := p.work.AddEdge(merged, e.Weight, e.Target); err != nil {
			return err
		}
	}
	for _, e := range p.work.IncomingEdges(local) {
		if _, err := p.work.AddEdge(e.Source, e.Weight, merged); err != nil {
			return err
		}
		if _, err := p.work.RemoveEdge(e.Source, e.Weight.Kind, local); err != nil {
			return err
		}
	}

	p.remapped[p.work.MustWeight(local).ID] = p.work.MustWeight(merged).ID
	return nil
}
