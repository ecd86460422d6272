// Package changeset stores change sets: named branches pointing at a
// snapshot address, forked from a base change set.
package changeset

import (
	"time"

	"github.com/ipfs/go-cid"

	"wsgraph/common"
	"wsgraph/vectorclock"
)

// Status is the lifecycle status of a change set.
type Status string

const (
	StatusOpen      Status = "open"
	StatusRebasing  Status = "rebasing"
	StatusConflicts Status = "conflicts"
	StatusApplied   Status = "applied"
	StatusAbandoned Status = "abandoned"
)

// ChangeSet is a branch of the workspace graph.
type ChangeSet struct {
	ID              common.ChangeSetID  `json:"id"`
	Name            string              `json:"name"`
	BaseChangeSetID *common.ChangeSetID `json:"base_change_set_id,omitempty"`
	// SnapshotAddress is the content address of the current graph version.
	SnapshotAddress cid.Cid `json:"snapshot_address"`
	// VectorClockID stamps every write made on this change set.
	VectorClockID vectorclock.ID `json:"vector_clock_id"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// New creates an open change set pointing at snapshot.
func New(name string, snapshot cid.Cid) *ChangeSet {
	now := time.Now().UTC()
	return &ChangeSet{
		ID:              common.NewChangeSetID(),
		Name:            name,
		SnapshotAddress: snapshot,
		VectorClockID:   vectorclock.NewID(),
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Fork creates a change set sharing base's snapshot. Nothing is copied but
// the pointer.
func (c *ChangeSet) Fork(name string) *ChangeSet {
	child := New(name, c.SnapshotAddress)
	base := c.ID
	child.BaseChangeSetID = &base
	return child
}
