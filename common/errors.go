package common

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// ErrMissingContent is returned when a content address has no entry in the
// content store.
type ErrMissingContent struct {
	Address cid.Cid
}

func (e ErrMissingContent) Error() string {
	return fmt.Sprintf("missing content: %s", e.Address)
}

// ErrNodeNotFound is returned when a node with the specified ID is not found.
type ErrNodeNotFound struct {
	ID NodeID
}

func (e ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node not found: %s", e.ID)
}

// ErrLineageNotFound is returned when no node carries the lineage id.
type ErrLineageNotFound struct {
	ID LineageID
}

func (e ErrLineageNotFound) Error() string {
	return fmt.Sprintf("lineage not found: %s", e.ID)
}

// ErrSerialization is returned when persisted graph bytes cannot be decoded.
type ErrSerialization struct {
	Address cid.Cid
	Err     error
}

func (e ErrSerialization) Error() string {
	if e.Address.Defined() {
		return fmt.Sprintf("malformed graph at %s: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("malformed graph: %v", e.Err)
}

func (e ErrSerialization) Unwrap() error {
	return e.Err
}

// ErrInvalidGraph is returned when an operation would break a structural
// rule of the graph.
type ErrInvalidGraph struct {
	Message string
}

func (e ErrInvalidGraph) Error() string {
	return fmt.Sprintf("invalid graph: %s", e.Message)
}
