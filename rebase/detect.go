package rebase

import (
	"context"
	"sort"

	logging "github.com/ipfs/go-log/v2"

	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/vectorclock"
)

var logger = logging.Logger("rebase")

// edgeKey identifies an edge across graph versions: node ids may differ
// between the sides, lineage ids do not.
type edgeKey struct {
	kind    graph.EdgeKind
	key     string
	lineage common.LineageID
}

type detector struct {
	toRebase        *graph.Graph
	toRebaseClockID vectorclock.ID
	onto            *graph.Graph
	ontoClockID     vectorclock.ID

	toKnowledge   vectorclock.VectorClock
	ontoKnowledge vectorclock.VectorClock

	// category nodes merged wholesale, excluded from the walk
	mergedOnto     map[graph.NodeIndex]struct{}
	mergedToRebase map[graph.NodeIndex]struct{}

	visited map[graph.NodeIndex]struct{}
	result  ConflictsAndUpdates
}

// DetectConflictsAndUpdates compares toRebase against onto and returns the
// updates that replay onto's changes and the conflicts that block them.
// Neither graph is modified apart from pending merkle hash recalculation.
// The walk checks ctx at every visited node.
func DetectConflictsAndUpdates(
	ctx context.Context,
	toRebase *graph.Graph,
	toRebaseClockID vectorclock.ID,
	onto *graph.Graph,
	ontoClockID vectorclock.ID,
) (ConflictsAndUpdates, error) {
	toRebase.RecalculateMerkleHashes()
	onto.RecalculateMerkleHashes()

	d := &detector{
		toRebase:        toRebase,
		toRebaseClockID: toRebaseClockID,
		onto:            onto,
		ontoClockID:     ontoClockID,
		toKnowledge:     toRebase.Knowledge(),
		ontoKnowledge:   onto.Knowledge(),
		mergedOnto:      make(map[graph.NodeIndex]struct{}),
		mergedToRebase:  make(map[graph.NodeIndex]struct{}),
		visited:         make(map[graph.NodeIndex]struct{}),
	}

	if toRebase.RootHash() == onto.RootHash() {
		return d.result, nil
	}

	d.detectCategoryMerges()
	if err := d.walk(ctx); err != nil {
		return ConflictsAndUpdates{}, err
	}

	sortConflicts(d.result.Conflicts)
	logger.Debugf("detection finished: %d conflicts, %d updates, %d nodes visited",
		len(d.result.Conflicts), len(d.result.Updates), len(d.visited))
	return d.result, nil
}

// detectCategoryMerges finds category kinds created independently on both
// sides.
func (d *detector) detectCategoryMerges() {
	for _, kind := range graph.AllCategoryKinds() {
		toCats := d.toRebase.CategoryNodes(kind)
		ontoCats := d.onto.CategoryNodes(kind)
		if len(toCats) == 0 || len(ontoCats) == 0 {
			continue
		}

		toCat := d.toRebase.MustWeight(toCats[0])
		ontoCat := d.onto.MustWeight(ontoCats[0])
		if toCat.LineageID == ontoCat.LineageID {
			continue
		}
		if len(d.toRebase.NodeIndicesByLineage(ontoCat.LineageID)) > 0 {
			// already merged by an earlier rebase
			continue
		}

		d.mergedOnto[ontoCats[0]] = struct{}{}
		d.mergedToRebase[toCats[0]] = struct{}{}
		d.result.Updates = append(d.result.Updates, Update{
			Kind:     UpdateMergeCategoryNodes,
			ToRebase: ptr(nodeInfo(toCat)),
			Onto:     ptr(nodeInfo(ontoCat)),
		})
	}
}

func (d *detector) walk(ctx context.Context) error {
	stack := []graph.NodeIndex{d.onto.Root()}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		ontoIdx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := d.visited[ontoIdx]; ok {
			continue
		}
		d.visited[ontoIdx] = struct{}{}

		// Nodes new on the onto side are walked through: their subtrees can
		// reach nodes the to-rebase graph already has.
		matches := d.matches(ontoIdx)
		descend := len(matches) == 0
		for _, toIdx := range matches {
			if d.toRebase.MerkleTreeHash(toIdx) == d.onto.MerkleTreeHash(ontoIdx) {
				continue
			}
			descend = true
			d.compareNodes(toIdx, ontoIdx)
			d.compareMembership(toIdx, ontoIdx)
		}
		if !descend {
			continue
		}

		for _, child := range d.onto.Children(ontoIdx) {
			if _, merged := d.mergedOnto[child]; merged {
				continue
			}
			if _, ok := d.visited[child]; !ok {
				stack = append(stack, child)
			}
		}
	}
	return nil
}

// matches returns the to-rebase nodes that correspond to ontoIdx.
func (d *detector) matches(ontoIdx graph.NodeIndex) []graph.NodeIndex {
	if ontoIdx == d.onto.Root() {
		return []graph.NodeIndex{d.toRebase.Root()}
	}
	lineage := d.onto.MustWeight(ontoIdx).LineageID
	var out []graph.NodeIndex
	for _, idx := range d.toRebase.NodeIndicesByLineage(lineage) {
		if d.toRebase.HasPathToRoot(idx) {
			out = append(out, idx)
		}
	}
	return out
}

func (d *detector) compareNodes(toIdx, ontoIdx graph.NodeIndex) {
	toW := d.toRebase.MustWeight(toIdx)
	ontoW := d.onto.MustWeight(ontoIdx)
	if toW.NodeHash() == ontoW.NodeHash() {
		return
	}

	switch vectorclock.Compare(toW.Write, ontoW.Write) {
	case vectorclock.After:
		// to-rebase is newer: keep it
	case vectorclock.Before:
		d.result.Updates = append(d.result.Updates, Update{
			Kind:     UpdateReplaceSubgraph,
			ToRebase: ptr(nodeInfo(toW)),
			Onto:     ptr(nodeInfo(ontoW)),
		})
	default:
		if _, ok := ontoW.Variant.(*graph.OrderingNode); ok {
			d.compareOrder(toIdx, ontoIdx)
			return
		}
		d.result.Conflicts = append(d.result.Conflicts, nodeContentConflict(toW, ontoW))
	}
}

// compareOrder reports a ChildOrder conflict when the children both sides
// still share are in a different relative order. Membership changes alone
// are replayed as edge updates.
func (d *detector) compareOrder(toOrdering, ontoOrdering graph.NodeIndex) {
	toContainer, ok := containerOf(d.toRebase, toOrdering)
	if !ok {
		return
	}
	ontoContainer, ok := containerOf(d.onto, ontoOrdering)
	if !ok {
		return
	}

	toOrder := lineageOrder(d.toRebase, toContainer)
	ontoOrder := lineageOrder(d.onto, ontoContainer)

	inTo := make(map[common.LineageID]struct{}, len(toOrder))
	for _, l := range toOrder {
		inTo[l] = struct{}{}
	}
	inOnto := make(map[common.LineageID]struct{}, len(ontoOrder))
	for _, l := range ontoOrder {
		inOnto[l] = struct{}{}
	}

	var a, b []common.LineageID
	for _, l := range toOrder {
		if _, ok := inOnto[l]; ok {
			a = append(a, l)
		}
	}
	for _, l := range ontoOrder {
		if _, ok := inTo[l]; ok {
			b = append(b, l)
		}
	}

	for i := range a {
		if len(a) != len(b) || a[i] != b[i] {
			d.result.Conflicts = append(d.result.Conflicts, childOrderConflict(
				d.toRebase.MustWeight(toContainer),
				d.toRebase.MustWeight(toOrdering),
				d.onto.MustWeight(ontoOrdering),
			))
			return
		}
	}
}

func containerOf(g *graph.Graph, ordering graph.NodeIndex) (graph.NodeIndex, bool) {
	for _, e := range g.IncomingEdges(ordering) {
		if e.Weight.Kind == graph.EdgeKindOrdering {
			return e.Source, true
		}
	}
	return graph.InvalidIndex, false
}

func lineageOrder(g *graph.Graph, container graph.NodeIndex) []common.LineageID {
	ids := g.EffectiveOrder(container)
	out := make([]common.LineageID, 0, len(ids))
	for _, id := range ids {
		w, err := g.GetNodeWeight(id)
		if err != nil {
			continue
		}
		out = append(out, w.LineageID)
	}
	return out
}

func (d *detector) edgesByKey(g *graph.Graph, idx graph.NodeIndex, excluded map[graph.NodeIndex]struct{}) map[edgeKey]graph.EdgeRef {
	out := make(map[edgeKey]graph.EdgeRef)
	for _, e := range g.OutgoingEdges(idx) {
		if _, skip := excluded[e.Target]; skip && idx == g.Root() {
			continue
		}
		k := edgeKey{
			kind:    e.Weight.Kind,
			key:     e.Weight.Key,
			lineage: g.MustWeight(e.Target).LineageID,
		}
		out[k] = e
	}
	return out
}

// compareMembership diffs the outgoing edges of a matched pair. Each edge
// carries the dot of the write that added it; the other side's knowledge
// tells whether a missing edge was never seen or was seen and removed.
func (d *detector) compareMembership(toIdx, ontoIdx graph.NodeIndex) {
	toW := d.toRebase.MustWeight(toIdx)
	toEdges := d.edgesByKey(d.toRebase, toIdx, d.mergedToRebase)
	ontoEdges := d.edgesByKey(d.onto, ontoIdx, d.mergedOnto)

	var removals []Update
	for k, e := range toEdges {
		if _, ok := ontoEdges[k]; ok {
			continue
		}
		if !d.ontoKnowledge.Covers(e.Weight.Dot) {
			continue
		}

		target := d.toRebase.MustWeight(e.Target)
		if target.Write.Get(d.toRebaseClockID) > d.ontoKnowledge.Get(d.toRebaseClockID) {
			d.result.Conflicts = append(d.result.Conflicts,
				modifyRemovedConflict(toW, target, d.ontoVersion(target.LineageID)))
			continue
		}
		weight := e.Weight
		removals = append(removals, Update{
			Kind:        UpdateRemoveEdge,
			Source:      ptr(nodeInfo(toW)),
			Destination: ptr(nodeInfo(target)),
			Edge:        &weight,
		})
	}

	var additions []Update
	for k, e := range ontoEdges {
		if _, ok := toEdges[k]; ok {
			continue
		}
		target := d.onto.MustWeight(e.Target)
		if d.toKnowledge.Covers(e.Weight.Dot) {
			if target.Write.HasEntriesNewerThan(d.toKnowledge) {
				d.result.Conflicts = append(d.result.Conflicts, removeModifiedConflict(toW, target))
			}
			continue
		}
		weight := e.Weight
		additions = append(additions, Update{
			Kind:        UpdateNewEdge,
			Source:      ptr(nodeInfo(toW)),
			Destination: ptr(nodeInfo(target)),
			Edge:        &weight,
		})
	}

	additions = d.checkExclusiveEdges(toW, toEdges, removals, additions)
	sortUpdates(removals)
	sortUpdates(additions)
	d.result.Updates = append(d.result.Updates, removals...)
	d.result.Updates = append(d.result.Updates, additions...)
}

// checkExclusiveEdges drops additions that would leave the source with more
// than one edge of an exclusive kind, reporting a conflict for each.
func (d *detector) checkExclusiveEdges(source *graph.NodeWeight, existing map[edgeKey]graph.EdgeRef, removals, additions []Update) []Update {
	if len(additions) == 0 {
		return additions
	}

	counts := make(map[graph.EdgeKind]int)
	current := make(map[graph.EdgeKind]*NodeInformation)
	for k, e := range existing {
		counts[k.kind]++
		current[k.kind] = ptr(nodeInfo(d.toRebase.MustWeight(e.Target)))
	}
	for _, r := range removals {
		counts[r.Edge.Kind]--
	}
	added := make(map[graph.EdgeKind]int)
	for _, a := range additions {
		added[a.Edge.Kind]++
	}

	kept := additions[:0]
	for _, a := range additions {
		kind := a.Edge.Kind
		if source.IsExclusiveOutgoingEdge(kind) && counts[kind]+added[kind] > 1 {
			d.result.Conflicts = append(d.result.Conflicts,
				exclusiveEdgeConflict(source, kind, current[kind], a.Destination))
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func (d *detector) ontoVersion(lineage common.LineageID) *graph.NodeWeight {
	indices := d.onto.NodeIndicesByLineage(lineage)
	if len(indices) == 0 {
		return nil
	}
	return d.onto.MustWeight(indices[0])
}

func sortUpdates(updates []Update) {
	sort.SliceStable(updates, func(i, j int) bool {
		a, b := updates[i], updates[j]
		if a.Source.ID != b.Source.ID {
			return a.Source.ID < b.Source.ID
		}
		if a.Destination.ID != b.Destination.ID {
			return a.Destination.ID < b.Destination.ID
		}
		return a.Edge.Kind < b.Edge.Kind
	})
}

func sortConflicts(conflicts []Conflict) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].LineageID != conflicts[j].LineageID {
			return conflicts[i].LineageID < conflicts[j].LineageID
		}
		return conflicts[i].Kind < conflicts[j].Kind
	})
}
