package workspace

import (
	"context"

	"github.com/ipfs/go-cid"
	pkgerrors "github.com/pkg/errors"

	"wsgraph/changeset"
	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/vectorclock"
)

// Snapshot edits one change set's graph. Every write is stamped with a dot
// from the change set's vector clock. Changes stay local until Commit.
type Snapshot struct {
	services  *Services
	changeSet *changeset.ChangeSet
	graph     *graph.Graph
	// base is the snapshot address the edits started from.
	base cid.Cid
}

func newSnapshot(s *Services, cs *changeset.ChangeSet, g *graph.Graph) *Snapshot {
	return &Snapshot{services: s, changeSet: cs, graph: g, base: cs.SnapshotAddress}
}

// Graph returns the graph being edited.
func (s *Snapshot) Graph() *graph.Graph { return s.graph }

// ChangeSet returns the change set the snapshot belongs to.
func (s *Snapshot) ChangeSet() *changeset.ChangeSet { return s.changeSet }

// Base returns the address the snapshot was opened at or last committed to.
func (s *Snapshot) Base() cid.Cid { return s.base }

func (s *Snapshot) dot(ctx context.Context) (vectorclock.Dot, error) {
	id := s.changeSet.VectorClockID
	if err := s.services.Clock.Witness(ctx, id, s.graph.Knowledge().Get(id)); err != nil {
		return vectorclock.Dot{}, err
	}
	counter, err := s.services.Clock.Next(ctx, id)
	if err != nil {
		return vectorclock.Dot{}, err
	}
	dot := vectorclock.Dot{ID: id, Counter: counter}
	s.graph.Observe(dot)
	return dot, nil
}

func (s *Snapshot) index(id common.NodeID) (graph.NodeIndex, error) {
	return s.graph.NodeIndexByID(id)
}

// NewContentNode stores payload in the content store and adds a detached
// node pointing at it. Attach it with AddEdge before committing, or Cleanup
// will drop it.
func (s *Snapshot) NewContentNode(ctx context.Context, kind graph.ContentKind, payload any) (common.NodeID, error) {
	addr, err := s.services.CAS.WriteValue(ctx, payload)
	if err != nil {
		return 0, err
	}
	dot, err := s.dot(ctx)
	if err != nil {
		return 0, err
	}

	id, lineage := s.services.IDs.NewIDs()
	w := graph.NewContentWeight(id, lineage, kind, addr)
	w.Stamp(dot)
	if _, err := s.graph.AddOrReplaceNode(w); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateContent points the content node at a new payload.
func (s *Snapshot) UpdateContent(ctx context.Context, id common.NodeID, payload any) error {
	w, err := s.graph.GetNodeWeight(id)
	if err != nil {
		return err
	}
	content, ok := w.Variant.(*graph.ContentNode)
	if !ok {
		return common.ErrInvalidGraph{Message: "content update on " + w.String()}
	}

	addr, err := s.services.CAS.WriteValue(ctx, payload)
	if err != nil {
		return err
	}
	if addr.Equals(content.Address) {
		return nil
	}
	dot, err := s.dot(ctx)
	if err != nil {
		return err
	}

	content.Address = addr
	w.Stamp(dot)
	_, err = s.graph.AddOrReplaceNode(w)
	return err
}

// AddEdge adds source -> target. Ordered kinds are appended to the source's
// order when it has an ordering node.
func (s *Snapshot) AddEdge(ctx context.Context, source common.NodeID, kind graph.EdgeKind, target common.NodeID, key string) error {
	src, err := s.index(source)
	if err != nil {
		return err
	}
	dst, err := s.index(target)
	if err != nil {
		return err
	}
	dot, err := s.dot(ctx)
	if err != nil {
		return err
	}
	_, err = s.graph.AddOrderedEdge(src, graph.NewEdgeWeight(kind, dot).WithKey(key), dst)
	return err
}

// RemoveEdge removes every source -> target edge of kind. It fails when no
// such edge exists.
func (s *Snapshot) RemoveEdge(ctx context.Context, source common.NodeID, kind graph.EdgeKind, target common.NodeID) error {
	src, err := s.index(source)
	if err != nil {
		return err
	}
	dst, err := s.index(target)
	if err != nil {
		return err
	}
	dot, err := s.dot(ctx)
	if err != nil {
		return err
	}
	n, err := s.graph.RemoveOrderedEdge(src, kind, dst, dot)
	if err != nil {
		return err
	}
	if n == 0 {
		return pkgerrors.Wrapf(common.ErrInvalidGraph{Message: "no such edge"}, "%s -%s-> %s", source, kind, target)
	}
	return nil
}

// MakeOrdered attaches an ordering node to container listing its current
// ordered children. It is a no-op for a container that is already ordered.
func (s *Snapshot) MakeOrdered(ctx context.Context, container common.NodeID) error {
	idx, err := s.index(container)
	if err != nil {
		return err
	}
	if _, ok := s.graph.OrderingNodeFor(idx); ok {
		return nil
	}

	var order []common.NodeID
	for _, e := range s.graph.OutgoingEdges(idx) {
		if e.Weight.Kind.IsOrdered() {
			order = append(order, s.graph.MustWeight(e.Target).ID)
		}
	}
	dot, err := s.dot(ctx)
	if err != nil {
		return err
	}
	id, lineage := s.services.IDs.NewIDs()
	_, err = s.graph.AttachOrderingNode(idx, graph.NewOrderingWeight(id, lineage, order), dot)
	return err
}

// AddOrderedEdge adds a Contain edge from container to child, making the
// container ordered first if needed.
func (s *Snapshot) AddOrderedEdge(ctx context.Context, container, child common.NodeID, key string) error {
	if err := s.MakeOrdered(ctx, container); err != nil {
		return err
	}
	return s.AddEdge(ctx, container, graph.EdgeKindContain, child, key)
}

// Reorder replaces the container's order.
func (s *Snapshot) Reorder(ctx context.Context, container common.NodeID, order []common.NodeID) error {
	idx, err := s.index(container)
	if err != nil {
		return err
	}
	for _, id := range order {
		if _, err := s.index(id); err != nil {
			return err
		}
	}
	dot, err := s.dot(ctx)
	if err != nil {
		return err
	}
	return s.graph.SetOrder(idx, order, dot)
}

// FindOrCreateCategory returns the category node of kind, creating it under
// the root when missing.
func (s *Snapshot) FindOrCreateCategory(ctx context.Context, kind graph.CategoryKind) (common.NodeID, error) {
	if idx, ok := s.graph.FindCategory(kind); ok {
		return s.graph.MustWeight(idx).ID, nil
	}

	dot, err := s.dot(ctx)
	if err != nil {
		return 0, err
	}
	id, lineage := s.services.IDs.NewIDs()
	w := graph.NewCategoryWeight(id, lineage, kind)
	w.Stamp(dot)
	idx, err := s.graph.AddOrReplaceNode(w)
	if err != nil {
		return 0, err
	}
	if _, err := s.graph.AddEdge(s.graph.Root(), graph.NewEdgeWeight(graph.EdgeKindUse, dot), idx); err != nil {
		return 0, err
	}
	return id, nil
}

// Content decodes the payload of the node into out.
func (s *Snapshot) Content(ctx context.Context, id common.NodeID, out any) error {
	w, err := s.graph.GetNodeWeight(id)
	if err != nil {
		return err
	}
	addr, ok := w.ContentAddress()
	if !ok {
		return common.ErrInvalidGraph{Message: w.String() + " has no content"}
	}
	return s.services.CAS.ReadValue(ctx, addr, out)
}

// Children returns the ids of the node's children in child order, leaving
// out its ordering node.
func (s *Snapshot) Children(id common.NodeID) ([]common.NodeID, error) {
	idx, err := s.index(id)
	if err != nil {
		return nil, err
	}
	children := s.graph.Children(idx)
	out := make([]common.NodeID, 0, len(children))
	for _, c := range children {
		w := s.graph.MustWeight(c)
		if w.Kind() == graph.NodeKindOrdering {
			continue
		}
		out = append(out, w.ID)
	}
	return out, nil
}
