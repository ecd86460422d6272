package graph

import (
	"fmt"

	"wsgraph/vectorclock"
)

// EdgeWeight is the payload of one edge.
type EdgeWeight struct {
	Kind EdgeKind `json:"kind"`
	// Key distinguishes multiple edges of the same kind between two nodes,
	// e.g. map entries under a Contain edge.
	Key string `json:"key,omitempty"`
	// Dot is the write that added the edge.
	Dot vectorclock.Dot `json:"dot"`
}

// NewEdgeWeight builds an edge weight added by dot.
func NewEdgeWeight(kind EdgeKind, dot vectorclock.Dot) EdgeWeight {
	return EdgeWeight{Kind: kind, Dot: dot}
}

// WithKey returns a copy carrying key.
func (e EdgeWeight) WithKey(key string) EdgeWeight {
	e.Key = key
	return e
}

func (e EdgeWeight) String() string {
	if e.Key == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s[%s]", e.Kind, e.Key)
}

// EdgeIndex addresses an edge slot in a graph.
type EdgeIndex int

// EdgeRef is a resolved edge.
type EdgeRef struct {
	Index  EdgeIndex
	Source NodeIndex
	Target NodeIndex
	Weight EdgeWeight
}
