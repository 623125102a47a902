package claim

import (
	"errors"
	"fmt"
)

// ErrClaimInFlight means this process already has a claim attempt running
// for the same task. The in-process guard suppresses an agent racing its
// own overlapping poll cycles; it says nothing about other peers.
var ErrClaimInFlight = errors.New("claim already in flight for this task")

// ConflictError means another peer holds (or won) the claim. Callers
// recover locally by moving on to a different task.
type ConflictError struct {
	Task      int
	ClaimedBy string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task %d already claimed by %s", e.Task, e.ClaimedBy)
}

// StaleReadError means the fresh pre-claim read contradicted the caller's
// in-memory snapshot: the task is no longer in a claimable state.
type StaleReadError struct {
	Task   int
	Reason string
}

func (e *StaleReadError) Error() string {
	return fmt.Sprintf("task %d snapshot is stale: %s", e.Task, e.Reason)
}

// LostWriteError means the assignee write was acknowledged but never
// became visible, even after the propagation extension. The claim must be
// retried or surfaced as failed, never silently assumed successful.
type LostWriteError struct {
	Task int
}

func (e *LostWriteError) Error() string {
	return fmt.Sprintf("task %d claim write was lost by the substrate", e.Task)
}
