package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"

	"wsgraph/common"
	"wsgraph/vectorclock"
)

// FormatVersion is written into every serialized graph.
const FormatVersion = 1

type serializedEdge struct {
	Source common.NodeID `json:"source"`
	Target common.NodeID `json:"target"`
	EdgeWeight
}

type serializedGraph struct {
	Version   int                     `json:"version"`
	Root      common.NodeID           `json:"root"`
	RootHash  common.Hash             `json:"root_hash"`
	Knowledge vectorclock.VectorClock `json:"knowledge"`
	Nodes     []*NodeWeight           `json:"nodes"`
	Edges     []serializedEdge        `json:"edges"`
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Marshal writes the node/edge table. Pending hash recalculation is done
// first so the stored hashes are current.
func (g *Graph) Marshal() ([]byte, error) {
	g.RecalculateMerkleHashes()

	out := serializedGraph{
		Version:   FormatVersion,
		Root:      g.nodes[g.root].weight.ID,
		RootHash:  g.RootHash(),
		Knowledge: g.knowledge,
		Nodes:     make([]*NodeWeight, 0, len(g.byID)),
	}
	for i := range g.nodes {
		if w := g.nodes[i].weight; w != nil {
			out.Nodes = append(out.Nodes, w)
		}
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })

	for i := range g.edges {
		e := g.edges[i]
		if e.removed {
			continue
		}
		out.Edges = append(out.Edges, serializedEdge{
			Source:     g.nodes[e.source].weight.ID,
			Target:     g.nodes[e.target].weight.ID,
			EdgeWeight: e.weight,
		})
	}
	sort.Slice(out.Edges, func(i, j int) bool {
		a, b := out.Edges[i], out.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Key < b.Key
	})

	return json.Marshal(out)
}

// Unmarshal rebuilds a graph and its index structures from a table written
// by Marshal. The root hash is recomputed and must match the stored one.
func Unmarshal(data []byte) (*Graph, error) {
	var in serializedGraph
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode graph table: %w", err)
	}
	if in.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported graph format version %d", in.Version)
	}

	g := newEmpty()
	for i, w := range in.Nodes {
		if w == nil {
			return nil, common.ErrInvalidGraph{Message: fmt.Sprintf("empty node entry at %d", i)}
		}
		if _, dup := g.byID[w.ID]; dup {
			return nil, common.ErrInvalidGraph{Message: "duplicate node id " + w.ID.String()}
		}
		if _, err := g.AddOrReplaceNode(w); err != nil {
			return nil, err
		}
	}

	root, ok := g.byID[in.Root]
	if !ok {
		return nil, common.ErrNodeNotFound{ID: in.Root}
	}
	g.root = root

	for _, e := range in.Edges {
		src, ok := g.byID[e.Source]
		if !ok {
			return nil, common.ErrNodeNotFound{ID: e.Source}
		}
		dst, ok := g.byID[e.Target]
		if !ok {
			return nil, common.ErrNodeNotFound{ID: e.Target}
		}
		if _, err := g.AddEdge(src, e.EdgeWeight, dst); err != nil {
			return nil, err
		}
	}

	if in.Knowledge != nil {
		g.knowledge = in.Knowledge
	}

	g.RecalculateAll()
	if !in.RootHash.IsZero() && g.RootHash() != in.RootHash {
		return nil, common.ErrInvalidGraph{
			Message: fmt.Sprintf("root hash mismatch: stored %s, computed %s", in.RootHash, g.RootHash()),
		}
	}
	return g, nil
}

// Encode returns the compressed serialized form of g.
func (g *Graph) Encode() ([]byte, error) {
	raw, err := g.Marshal()
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*Graph, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress graph: %w", err)
	}
	return Unmarshal(raw)
}
