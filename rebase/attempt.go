package rebase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wsgraph/common"
	"wsgraph/graph"
	"wsgraph/vectorclock"
)

var (
	// ErrUnresolvedConflicts is returned when updates are applied while the
	// detection that produced them reported conflicts.
	ErrUnresolvedConflicts = errors.New("rebase has unresolved conflicts")
	// ErrInvalidTransition is returned when an attempt is driven out of
	// order.
	ErrInvalidTransition = errors.New("invalid rebase state transition")
)

// State is the lifecycle state of a rebase attempt.
type State string

const (
	StateRequested  State = "requested"
	StateDetecting  State = "detecting"
	StateClean      State = "clean"
	StateConflicted State = "conflicted"
	StateApplying   State = "applying"
	StateApplied    State = "applied"
	StateRejected   State = "rejected"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateRequested:  {StateDetecting},
	StateDetecting:  {StateClean, StateConflicted, StateCancelled, StateFailed},
	StateClean:      {StateApplying},
	StateConflicted: {StateRejected},
	StateApplying:   {StateApplied, StateFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Attempt drives one rebase through
// Requested -> Detecting -> {Clean -> Applying -> Applied} | {Conflicted -> Rejected}.
// Cancellation is possible up to the end of detection; nothing is mutated
// before Applying. An error during detection or application ends the
// attempt in Failed, and Err returns it.
type Attempt struct {
	mu sync.Mutex

	toRebase        *graph.Graph
	toRebaseClockID vectorclock.ID
	onto            *graph.Graph
	ontoClockID     vectorclock.ID

	state   State
	history []State
	result  ConflictsAndUpdates
	root    common.Hash
	err     error
}

// NewAttempt creates an attempt in the Requested state.
func NewAttempt(toRebase *graph.Graph, toRebaseClockID vectorclock.ID, onto *graph.Graph, ontoClockID vectorclock.ID) *Attempt {
	return &Attempt{
		toRebase:        toRebase,
		toRebaseClockID: toRebaseClockID,
		onto:            onto,
		ontoClockID:     ontoClockID,
		state:           StateRequested,
		history:         []State{StateRequested},
	}
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns every state the attempt has been in.
func (a *Attempt) History() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]State(nil), a.history...)
}

// Result returns the detection result.
func (a *Attempt) Result() ConflictsAndUpdates {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Err returns the error that ended the attempt in Failed or Cancelled.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Root returns the new root hash once Applied.
func (a *Attempt) Root() common.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.root
}

func (a *Attempt) transition(to State) error {
	for _, allowed := range transitions[a.state] {
		if allowed == to {
			a.state = to
			a.history = append(a.history, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.state, to)
}

// Detect runs conflict detection. It ends in Clean or Conflicted,
// Cancelled when ctx ends first, or Failed on any other error.
func (a *Attempt) Detect(ctx context.Context) (ConflictsAndUpdates, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.transition(StateDetecting); err != nil {
		return ConflictsAndUpdates{}, err
	}

	result, err := DetectConflictsAndUpdates(ctx, a.toRebase, a.toRebaseClockID, a.onto, a.ontoClockID)
	if err != nil {
		a.err = err
		if ctx.Err() != nil {
			_ = a.transition(StateCancelled)
		} else {
			_ = a.transition(StateFailed)
		}
		return ConflictsAndUpdates{}, err
	}

	a.result = result
	if result.Clean() {
		return result, a.transition(StateClean)
	}
	return result, a.transition(StateConflicted)
}

// Apply performs the detected updates. A Conflicted attempt returns
// ErrUnresolvedConflicts and stays Conflicted. When the updates cannot be
// applied the graph is left untouched and the attempt ends in Failed.
func (a *Attempt) Apply(ctx context.Context) (common.Hash, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateConflicted {
		return common.ZeroHash, fmt.Errorf("%w: %d conflicts", ErrUnresolvedConflicts, len(a.result.Conflicts))
	}
	if err := a.transition(StateApplying); err != nil {
		return common.ZeroHash, err
	}

	// application is not cancelled once started
	root, err := PerformUpdates(context.WithoutCancel(ctx), a.toRebase, a.toRebaseClockID, a.onto, a.result.Updates)
	if err != nil {
		a.err = err
		_ = a.transition(StateFailed)
		return common.ZeroHash, err
	}
	a.root = root
	return root, a.transition(StateApplied)
}

// Reject closes a Conflicted attempt.
func (a *Attempt) Reject() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transition(StateRejected)
}

// Run drives the attempt to a terminal state. Conflicts end in Rejected
// and are returned in the result, not as an error.
func (a *Attempt) Run(ctx context.Context) (ConflictsAndUpdates, error) {
	result, err := a.Detect(ctx)
	if err != nil {
		return result, err
	}
	if !result.Clean() {
		return result, a.Reject()
	}
	_, err = a.Apply(ctx)
	return result, err
}
