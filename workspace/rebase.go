package workspace

import (
	"context"

	"github.com/ipfs/go-cid"
	pkgerrors "github.com/pkg/errors"

	"wsgraph/changeset"
	"wsgraph/common"
	"wsgraph/rebase"
	"wsgraph/vectorclock"
)

// RebaseOutcome reports one change set rebase.
type RebaseOutcome struct {
	ChangeSetID common.ChangeSetID
	State       rebase.State
	Result      rebase.ConflictsAndUpdates
	// NewRoot and SnapshotAddress are set when the rebase was applied.
	NewRoot         common.Hash
	SnapshotAddress cid.Cid
}

// Applied reports whether the change set moved.
func (o *RebaseOutcome) Applied() bool {
	return o.State == rebase.StateApplied
}

// RebaseChangeSet rebases the change set's current graph onto the graph at
// ontoAddress, whose writes are stamped with ontoClockID. A clean rebase is
// written to the content store and the change set is moved to it; a
// conflicted one leaves the change set where it was with status
// conflicts. Callers must not rebase the same change set concurrently;
// the pointer compare-and-swap rejects a lost race with
// changeset.ErrStalePointer.
func (s *Services) RebaseChangeSet(ctx context.Context, id common.ChangeSetID, ontoAddress cid.Cid, ontoClockID vectorclock.ID) (*RebaseOutcome, error) {
	cs, err := s.ChangeSets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	toRebase, err := s.LoadSnapshot(ctx, cs.SnapshotAddress)
	if err != nil {
		return nil, err
	}
	onto, err := s.LoadSnapshot(ctx, ontoAddress)
	if err != nil {
		return nil, err
	}
	if err := s.ChangeSets.SetStatus(ctx, id, changeset.StatusRebasing); err != nil {
		return nil, err
	}

	attempt := rebase.NewAttempt(toRebase, cs.VectorClockID, onto, ontoClockID)
	result, err := attempt.Run(ctx)
	outcome := &RebaseOutcome{ChangeSetID: id, State: attempt.State(), Result: result}
	if err != nil {
		s.restoreStatus(id, changeset.StatusOpen)
		return outcome, pkgerrors.Wrapf(err, "rebase of change set %s onto %s", id, ontoAddress)
	}

	if !outcome.Applied() {
		logger.Infof("rebase of change set %s onto %s has %d conflicts", id, ontoAddress, len(result.Conflicts))
		if err := s.ChangeSets.SetStatus(ctx, id, changeset.StatusConflicts); err != nil {
			return outcome, err
		}
		return outcome, nil
	}

	addr, err := s.WriteSnapshot(ctx, toRebase)
	if err != nil {
		s.restoreStatus(id, changeset.StatusOpen)
		return outcome, err
	}
	// persist the counters the engine handed out during the rebase
	if err := s.Clock.Witness(ctx, cs.VectorClockID, toRebase.Knowledge().Get(cs.VectorClockID)); err != nil {
		s.restoreStatus(id, changeset.StatusOpen)
		return outcome, err
	}
	if _, err := s.ChangeSets.UpdatePointer(ctx, id, cs.SnapshotAddress, addr); err != nil {
		s.restoreStatus(id, changeset.StatusOpen)
		return outcome, err
	}
	if err := s.ChangeSets.SetStatus(ctx, id, changeset.StatusOpen); err != nil {
		return outcome, err
	}

	outcome.NewRoot = attempt.Root()
	outcome.SnapshotAddress = addr
	logger.Infof("rebased change set %s onto %s: %d updates, now at %s", id, ontoAddress, len(result.Updates), addr)
	return outcome, nil
}

// ApplyChangeSet brings a change set's work into head by rebasing head onto
// the change set's graph. On success the change set is marked applied.
func (s *Services) ApplyChangeSet(ctx context.Context, id, head common.ChangeSetID) (*RebaseOutcome, error) {
	cs, err := s.ChangeSets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	outcome, err := s.RebaseChangeSet(ctx, head, cs.SnapshotAddress, cs.VectorClockID)
	if err != nil || !outcome.Applied() {
		return outcome, err
	}
	if err := s.ChangeSets.SetStatus(ctx, id, changeset.StatusApplied); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (s *Services) restoreStatus(id common.ChangeSetID, status changeset.Status) {
	// the caller's ctx may already be cancelled
	if err := s.ChangeSets.SetStatus(context.Background(), id, status); err != nil {
		logger.Warnf("failed to restore status of change set %s: %v", id, err)
	}
}
