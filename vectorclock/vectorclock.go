// Package vectorclock tracks causal history of graph writes.
package vectorclock

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ID identifies one entry of a vector clock. Each change set gets its own.
type ID uuid.UUID

// NewID returns a new time-ordered id.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// ParseID parses the string form of an id.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid vector clock id %q: %w", s, err)
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText implements encoding.TextMarshaler so ids can be map keys in JSON.
func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

// Dot names one write: the clock id that made it and its counter.
type Dot struct {
	ID      ID     `json:"id"`
	Counter uint64 `json:"counter"`
}

// IsZero reports whether the dot was never stamped.
func (d Dot) IsZero() bool {
	return d.Counter == 0
}

func (d Dot) String() string {
	return fmt.Sprintf("%s@%d", d.ID, d.Counter)
}

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	// Equal means both clocks carry the same entries.
	Equal Ordering = iota
	// Before means the left clock is strictly dominated by the right one.
	Before
	// After means the left clock strictly dominates the right one.
	After
	// Concurrent means each clock has an entry the other lacks.
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// VectorClock maps clock ids to counters. It is not safe for concurrent
// use.
type VectorClock map[ID]uint64

// New creates an empty vector clock.
func New() VectorClock {
	return make(VectorClock)
}

// Get returns the counter for id, zero when absent.
func (vc VectorClock) Get(id ID) uint64 {
	return vc[id]
}

// Copy returns an independent copy.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for id, counter := range vc {
		out[id] = counter
	}
	return out
}

// Update raises the entry for id to counter if it is larger.
func (vc VectorClock) Update(dot Dot) {
	if dot.Counter > vc[dot.ID] {
		vc[dot.ID] = dot.Counter
	}
}

// Merge takes the entry-wise maximum of vc and other.
func (vc VectorClock) Merge(other VectorClock) {
	for id, counter := range other {
		if counter > vc[id] {
			vc[id] = counter
		}
	}
}

// Covers reports whether the write named by dot is included in vc.
func (vc VectorClock) Covers(dot Dot) bool {
	if dot.IsZero() {
		return true
	}
	return vc[dot.ID] >= dot.Counter
}

// HasEntriesNewerThan reports whether vc records a write that other has not
// seen.
func (vc VectorClock) HasEntriesNewerThan(other VectorClock) bool {
	for id, counter := range vc {
		if counter > other[id] {
			return true
		}
	}
	return false
}

// Compare compares a against b.
func Compare(a, b VectorClock) Ordering {
	aNewer := a.HasEntriesNewerThan(b)
	bNewer := b.HasEntriesNewerThan(a)

	switch {
	case aNewer && bNewer:
		return Concurrent
	case aNewer:
		return After
	case bNewer:
		return Before
	default:
		return Equal
	}
}

// String renders the clock with ids sorted, for logs and test output.
func (vc VectorClock) String() string {
	ids := make([]ID, 0, len(vc))
	for id := range vc {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	var sb strings.Builder
	sb.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s:%d", id, vc[id])
	}
	sb.WriteByte('}')
	return sb.String()
}
