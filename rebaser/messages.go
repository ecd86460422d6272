package rebaser

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"

	"wsgraph/common"
	"wsgraph/rebase"
	"wsgraph/vectorclock"
)

// Default topic names.
const (
	DefaultRequestTopic = "wsgraph.rebase.requests"
	DefaultMovedTopic   = "wsgraph.changesets.moved"
	replyTopicPrefix    = "wsgraph.rebase.replies."
)

// Status is the outcome of a rebase request.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusConflicts Status = "conflicts"
	StatusError     Status = "error"
)

// RebaseRequest asks the rebaser to rebase a change set onto a snapshot.
type RebaseRequest struct {
	RequestID   string             `json:"request_id"`
	ChangeSetID common.ChangeSetID `json:"change_set_id"`
	// ToSnapshotAddress is the snapshot the change set is rebased onto.
	ToSnapshotAddress cid.Cid `json:"to_snapshot_address"`
	// OntoVectorClockID stamps the writes of that snapshot's branch.
	OntoVectorClockID vectorclock.ID `json:"onto_vector_clock_id"`
	ReplyTopic        string         `json:"reply_topic"`
}

// Validate checks the fields the server needs.
func (r RebaseRequest) Validate() error {
	switch {
	case r.RequestID == "":
		return fmt.Errorf("request id is required")
	case !r.ToSnapshotAddress.Defined():
		return fmt.Errorf("request %s: snapshot address is required", r.RequestID)
	case r.ReplyTopic == "":
		return fmt.Errorf("request %s: reply topic is required", r.RequestID)
	}
	return nil
}

// RebaseResult answers a RebaseRequest.
type RebaseResult struct {
	RequestID   string             `json:"request_id"`
	ChangeSetID common.ChangeSetID `json:"change_set_id"`
	Status      Status             `json:"status"`
	// NewRoot and SnapshotAddress are set for StatusApplied.
	NewRoot         common.Hash       `json:"new_root"`
	SnapshotAddress *cid.Cid          `json:"snapshot_address,omitempty"`
	Conflicts       []rebase.Conflict `json:"conflicts,omitempty"`
	Updates         []rebase.Update   `json:"updates,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// ChangeSetMoved announces that a change set points at a new snapshot.
type ChangeSetMoved struct {
	ChangeSetID     common.ChangeSetID `json:"change_set_id"`
	SnapshotAddress cid.Cid            `json:"snapshot_address"`
	RootHash        common.Hash        `json:"root_hash"`
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return data, nil
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return v, nil
}
