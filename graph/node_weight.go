package graph

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"

	"wsgraph/common"
	"wsgraph/vectorclock"
)

// Variant is the closed set of node payload shapes. Only the types in this
// file implement it.
type Variant interface {
	Kind() NodeKind
	hashInto(h *common.Hasher)
	clone() Variant
}

// ContentNode points at a content store entry.
type ContentNode struct {
	ContentKind ContentKind `json:"content_kind"`
	Address     cid.Cid     `json:"address"`
}

// CategoryNode is a singleton attachment point under the root.
type CategoryNode struct {
	CategoryKind CategoryKind `json:"category_kind"`
}

// OrderingNode records the explicit child order of its container.
type OrderingNode struct {
	Order []common.NodeID `json:"order"`
}

// ManagementPrototypeNode carries inline fields beyond a content address.
type ManagementPrototypeNode struct {
	Address cid.Cid            `json:"address"`
	Name    string             `json:"name"`
	Managed []common.LineageID `json:"managed,omitempty"`
}

func (*ContentNode) Kind() NodeKind             { return NodeKindContent }
func (*CategoryNode) Kind() NodeKind            { return NodeKindCategory }
func (*OrderingNode) Kind() NodeKind            { return NodeKindOrdering }
func (*ManagementPrototypeNode) Kind() NodeKind { return NodeKindManagementPrototype }

func (v *ContentNode) hashInto(h *common.Hasher) {
	h.WriteUint64(uint64(NodeKindContent))
	h.WriteUint64(uint64(v.ContentKind))
	h.WriteString(addressString(v.Address))
}

func (v *CategoryNode) hashInto(h *common.Hasher) {
	h.WriteUint64(uint64(NodeKindCategory))
	h.WriteUint64(uint64(v.CategoryKind))
}

func (v *OrderingNode) hashInto(h *common.Hasher) {
	h.WriteUint64(uint64(NodeKindOrdering))
	h.WriteUint64(uint64(len(v.Order)))
	for _, id := range v.Order {
		h.WriteUint64(uint64(id))
	}
}

func (v *ManagementPrototypeNode) hashInto(h *common.Hasher) {
	h.WriteUint64(uint64(NodeKindManagementPrototype))
	h.WriteString(addressString(v.Address))
	h.WriteString(v.Name)
	h.WriteUint64(uint64(len(v.Managed)))
	for _, id := range v.Managed {
		h.WriteUint64(uint64(id))
	}
}

func (v *ContentNode) clone() Variant {
	cp := *v
	return &cp
}

func (v *CategoryNode) clone() Variant {
	cp := *v
	return &cp
}

func (v *OrderingNode) clone() Variant {
	return &OrderingNode{Order: append([]common.NodeID(nil), v.Order...)}
}

func (v *ManagementPrototypeNode) clone() Variant {
	cp := *v
	cp.Managed = append([]common.LineageID(nil), v.Managed...)
	return &cp
}

func addressString(c cid.Cid) string {
	if !c.Defined() {
		return ""
	}
	return c.KeyString()
}

// NodeWeight is the payload of one graph node.
type NodeWeight struct {
	ID        common.NodeID
	LineageID common.LineageID
	// Write records the writes that produced this version of the node.
	Write   vectorclock.VectorClock
	Variant Variant

	merkle common.Hash
}

// NewContentWeight builds a content node weight.
func NewContentWeight(id common.NodeID, lineage common.LineageID, kind ContentKind, address cid.Cid) *NodeWeight {
	return &NodeWeight{
		ID:        id,
		LineageID: lineage,
		Write:     vectorclock.New(),
		Variant:   &ContentNode{ContentKind: kind, Address: address},
	}
}

// NewCategoryWeight builds a category node weight.
func NewCategoryWeight(id common.NodeID, lineage common.LineageID, kind CategoryKind) *NodeWeight {
	return &NodeWeight{
		ID:        id,
		LineageID: lineage,
		Write:     vectorclock.New(),
		Variant:   &CategoryNode{CategoryKind: kind},
	}
}

// NewOrderingWeight builds an ordering node weight.
func NewOrderingWeight(id common.NodeID, lineage common.LineageID, order []common.NodeID) *NodeWeight {
	return &NodeWeight{
		ID:        id,
		LineageID: lineage,
		Write:     vectorclock.New(),
		Variant:   &OrderingNode{Order: append([]common.NodeID(nil), order...)},
	}
}

// Kind returns the variant discriminant.
func (w *NodeWeight) Kind() NodeKind {
	return w.Variant.Kind()
}

// NodeHash hashes the node's own fields. Ids and clocks are excluded, so two
// nodes with identical payloads hash the same.
func (w *NodeWeight) NodeHash() common.Hash {
	h := common.NewHasher()
	w.Variant.hashInto(h)
	return h.Sum()
}

// MerkleTreeHash returns the hash computed by the last recalculation.
func (w *NodeWeight) MerkleTreeHash() common.Hash {
	return w.merkle
}

// ContentAddress returns the content store address, if the variant has one.
func (w *NodeWeight) ContentAddress() (cid.Cid, bool) {
	switch v := w.Variant.(type) {
	case *ContentNode:
		return v.Address, v.Address.Defined()
	case *ManagementPrototypeNode:
		return v.Address, v.Address.Defined()
	default:
		return cid.Undef, false
	}
}

// Stamp records a write on this node.
func (w *NodeWeight) Stamp(dot vectorclock.Dot) {
	if w.Write == nil {
		w.Write = vectorclock.New()
	}
	w.Write.Update(dot)
}

// Clone returns a deep copy.
func (w *NodeWeight) Clone() *NodeWeight {
	return &NodeWeight{
		ID:        w.ID,
		LineageID: w.LineageID,
		Write:     w.Write.Copy(),
		Variant:   w.Variant.clone(),
		merkle:    w.merkle,
	}
}

// IsExclusiveOutgoingEdge reports whether the node may have at most one
// outgoing edge of kind.
func (w *NodeWeight) IsExclusiveOutgoingEdge(kind EdgeKind) bool {
	v, ok := w.Variant.(*ContentNode)
	if !ok {
		return false
	}
	switch v.ContentKind {
	case ContentKindAttributeValue, ContentKindProp, ContentKindActionPrototype:
		return kind == EdgeKindPrototype
	case ContentKindComponent:
		return kind == EdgeKindUse
	default:
		return false
	}
}

func (w *NodeWeight) String() string {
	return fmt.Sprintf("%s(%s lineage=%s)", w.Kind(), w.ID, w.LineageID)
}

type nodeWeightJSON struct {
	ID         common.NodeID            `json:"id"`
	LineageID  common.LineageID         `json:"lineage_id"`
	Write      vectorclock.VectorClock  `json:"write,omitempty"`
	Merkle     common.Hash              `json:"merkle"`
	Kind       string                   `json:"kind"`
	Content    *ContentNode             `json:"content,omitempty"`
	Category   *CategoryNode            `json:"category,omitempty"`
	Ordering   *OrderingNode            `json:"ordering,omitempty"`
	Management *ManagementPrototypeNode `json:"management,omitempty"`
}

// MarshalJSON encodes the weight with a kind discriminant.
func (w *NodeWeight) MarshalJSON() ([]byte, error) {
	out := nodeWeightJSON{
		ID:        w.ID,
		LineageID: w.LineageID,
		Write:     w.Write,
		Merkle:    w.merkle,
		Kind:      w.Kind().String(),
	}
	switch v := w.Variant.(type) {
	case *ContentNode:
		out.Content = v
	case *CategoryNode:
		out.Category = v
	case *OrderingNode:
		out.Ordering = v
	case *ManagementPrototypeNode:
		out.Management = v
	default:
		return nil, fmt.Errorf("unknown node variant %T", w.Variant)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a weight written by MarshalJSON.
func (w *NodeWeight) UnmarshalJSON(data []byte) error {
	var in nodeWeightJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	w.ID = in.ID
	w.LineageID = in.LineageID
	w.Write = in.Write
	if w.Write == nil {
		w.Write = vectorclock.New()
	}
	w.merkle = in.Merkle

	switch {
	case in.Kind == NodeKindContent.String() && in.Content != nil:
		w.Variant = in.Content
	case in.Kind == NodeKindCategory.String() && in.Category != nil:
		w.Variant = in.Category
	case in.Kind == NodeKindOrdering.String() && in.Ordering != nil:
		w.Variant = in.Ordering
	case in.Kind == NodeKindManagementPrototype.String() && in.Management != nil:
		w.Variant = in.Management
	default:
		return fmt.Errorf("node %s: unknown or empty variant %q", in.ID, in.Kind)
	}
	return nil
}
