// Package common holds identifiers, hashes and errors shared by the
// workspace graph packages.
package common

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// NodeID identifies one version of a node. Ids are time-sortable and never
// reused after removal.
type NodeID int64

// LineageID identifies "the same logical thing" across node replacements.
type LineageID int64

// String returns the base-10 form of the id.
func (id NodeID) String() string {
	return snowflake.ID(id).String()
}

// MarshalJSON encodes the id as a quoted string so that JavaScript clients
// do not lose precision.
func (id NodeID) MarshalJSON() ([]byte, error) {
	return snowflake.ID(id).MarshalJSON()
}

// UnmarshalJSON decodes a quoted id.
func (id *NodeID) UnmarshalJSON(b []byte) error {
	var sid snowflake.ID
	if err := sid.UnmarshalJSON(b); err != nil {
		return err
	}
	*id = NodeID(sid)
	return nil
}

// ParseNodeID parses the base-10 form of a node id.
func ParseNodeID(s string) (NodeID, error) {
	sid, err := snowflake.ParseString(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse node id %q: %w", s, err)
	}
	return NodeID(sid), nil
}

func (id LineageID) String() string {
	return snowflake.ID(id).String()
}

func (id LineageID) MarshalJSON() ([]byte, error) {
	return snowflake.ID(id).MarshalJSON()
}

func (id *LineageID) UnmarshalJSON(b []byte) error {
	var sid snowflake.ID
	if err := sid.UnmarshalJSON(b); err != nil {
		return err
	}
	*id = LineageID(sid)
	return nil
}

// IDGenerator hands out node and lineage ids.
type IDGenerator struct {
	node *snowflake.Node
}

var (
	defaultGenerator     *IDGenerator
	defaultGeneratorOnce sync.Once
)

// NewIDGenerator creates a generator for the given snowflake node number
// (0-1023). Processes sharing graphs must use distinct node numbers.
func NewIDGenerator(nodeNumber int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}
	return &IDGenerator{node: node}, nil
}

// DefaultIDGenerator returns a process-wide generator using node number 1.
func DefaultIDGenerator() *IDGenerator {
	defaultGeneratorOnce.Do(func() {
		g, err := NewIDGenerator(1)
		if err != nil {
			panic(err)
		}
		defaultGenerator = g
	})
	return defaultGenerator
}

// NewNodeID generates a new node id.
func (g *IDGenerator) NewNodeID() NodeID {
	return NodeID(g.node.Generate())
}

// NewLineageID generates a new lineage id.
func (g *IDGenerator) NewLineageID() LineageID {
	return LineageID(g.node.Generate())
}

// NewIDs generates a node id and a fresh lineage id for a brand new node.
func (g *IDGenerator) NewIDs() (NodeID, LineageID) {
	return g.NewNodeID(), g.NewLineageID()
}

// ChangeSetID identifies a change set.
type ChangeSetID = uuid.UUID

// NewChangeSetID creates a time-ordered change set id.
func NewChangeSetID() ChangeSetID {
	return uuid.Must(uuid.NewV7())
}

// Hash is a 32-byte blake3 digest used for node and merkle tree hashes.
type Hash [32]byte

// ZeroHash is the hash of nothing; it never equals a computed hash.
var ZeroHash Hash

// IsZero reports whether the hash was never computed.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*h = ZeroHash
		return nil
	}
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("invalid hash length: %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

// ParseHash parses a hex encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// Hasher accumulates bytes into a Hash.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher creates an empty hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New(32, nil)}
}

// Write adds raw bytes.
func (h *Hasher) Write(b []byte) {
	h.h.Write(b)
}

// WriteString adds a length-prefixed string so that adjacent fields cannot
// run into each other.
func (h *Hasher) WriteString(s string) {
	h.WriteUint64(uint64(len(s)))
	h.h.Write([]byte(s))
}

// WriteUint64 adds a big-endian integer.
func (h *Hasher) WriteUint64(v uint64) {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	h.h.Write(buf[:])
}

// WriteHash adds another digest.
func (h *Hasher) WriteHash(other Hash) {
	h.h.Write(other[:])
}

// Sum returns the digest.
func (h *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], h.h.Sum(nil))
	return out
}
