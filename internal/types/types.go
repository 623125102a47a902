// Package types defines core data structures for the planmux coordination engine.
package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Status represents the current state of a task within a plan.
type Status string

// Task status constants. These are the exact strings written into plan
// bodies, so they must never change spelling or case.
const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// IsValid checks if the status value is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// CanTransitionTo reports whether a transition from s to next is allowed.
// Transitions are monotone (pending → claimed → in_progress → completed)
// with two recovery edges: in_progress → blocked on failure, and
// blocked → claimed for retry by any peer.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusClaimed
	case StatusClaimed:
		return next == StatusInProgress || next == StatusPending || next == StatusBlocked
	case StatusInProgress:
		return next == StatusCompleted || next == StatusBlocked
	case StatusBlocked:
		return next == StatusClaimed || next == StatusPending
	case StatusCompleted:
		return false
	}
	return false
}

// PlanStatus is the derived state of a whole plan. It is a pure function of
// the task statuses and is never stored independently of them.
type PlanStatus string

// Plan status constants.
const (
	PlanActive   PlanStatus = "active"
	PlanComplete PlanStatus = "complete"
	PlanBlocked  PlanStatus = "blocked"
)

// Task is one unit of work within a plan.
type Task struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Status   Status `json:"status"`
	Assignee string `json:"assignee,omitempty"`
	Estimate string `json:"estimate,omitempty"`
	// Dependencies holds references in canonical "Task <N>" form where
	// resolution succeeded, otherwise the raw text as written.
	Dependencies []string `json:"dependencies,omitempty"`
	// Unresolved lists dependency text that never matched any task.
	// Such a task is permanently unclaimable and must be surfaced.
	Unresolved  []string `json:"unresolved,omitempty"`
	Files       []string `json:"files,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ChecklistItem is one entry in a plan's verification checklist.
type ChecklistItem struct {
	Checked bool   `json:"checked"`
	Text    string `json:"text"`
}

// Plan is the structured work breakdown stored as one issue's body.
type Plan struct {
	Title        string          `json:"title"`
	Goal         string          `json:"goal,omitempty"`
	Context      string          `json:"context,omitempty"`
	Tasks        []*Task         `json:"tasks"`
	Verification []ChecklistItem `json:"verification,omitempty"`
}

// canonicalDepPattern matches the canonical dependency form "Task <N>".
var canonicalDepPattern = regexp.MustCompile(`^Task (\d+)$`)

// CanonicalDep formats a task number as a canonical dependency reference.
func CanonicalDep(n int) string {
	return fmt.Sprintf("Task %d", n)
}

// ParseCanonicalDep extracts the task number from a canonical "Task <N>"
// reference. Returns 0, false for anything else.
func ParseCanonicalDep(ref string) (int, bool) {
	m := canonicalDepPattern.FindStringSubmatch(ref)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// DependencyNumbers returns the task numbers of all canonical dependency
// references. Unresolved raw-text dependencies are skipped.
func (t *Task) DependencyNumbers() []int {
	var nums []int
	for _, dep := range t.Dependencies {
		if n, ok := ParseCanonicalDep(dep); ok {
			nums = append(nums, n)
		}
	}
	return nums
}

// Claimable reports whether the task may be claimed given the set of
// completed task numbers: status pending or blocked, no assignee, every
// dependency completed, and no permanently unresolved dependency.
func (t *Task) Claimable(completed map[int]bool) bool {
	if t.Status != StatusPending && t.Status != StatusBlocked {
		return false
	}
	if t.Assignee != "" {
		return false
	}
	if len(t.Unresolved) > 0 {
		return false
	}
	for _, dep := range t.Dependencies {
		n, ok := ParseCanonicalDep(dep)
		if !ok {
			// Non-canonical dependency that pass-two resolution left
			// behind; treat as unsatisfiable.
			return false
		}
		if !completed[n] {
			return false
		}
	}
	return true
}

// Task returns the task with the given number, or nil.
func (p *Plan) Task(number int) *Task {
	for _, t := range p.Tasks {
		if t.Number == number {
			return t
		}
	}
	return nil
}

// CompletedSet returns the set of completed task numbers.
func (p *Plan) CompletedSet() map[int]bool {
	done := make(map[int]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.Status == StatusCompleted {
			done[t.Number] = true
		}
	}
	return done
}

// ClaimableTasks returns tasks satisfying the claimability invariant, in
// plan order.
func (p *Plan) ClaimableTasks() []*Task {
	done := p.CompletedSet()
	var out []*Task
	for _, t := range p.Tasks {
		if t.Claimable(done) {
			out = append(out, t)
		}
	}
	return out
}

// Status computes the derived plan status: complete iff every task is
// completed, blocked if any task is blocked, otherwise active.
func (p *Plan) Status() PlanStatus {
	if len(p.Tasks) == 0 {
		return PlanActive
	}
	allDone := true
	anyBlocked := false
	for _, t := range p.Tasks {
		if t.Status != StatusCompleted {
			allDone = false
		}
		if t.Status == StatusBlocked {
			anyBlocked = true
		}
	}
	if allDone {
		return PlanComplete
	}
	if anyBlocked {
		return PlanBlocked
	}
	return PlanActive
}

// UnresolvedDependencies returns every (task, raw text) pair whose
// dependency never resolved to a task. Callers must surface these; they
// are never silently dropped.
func (p *Plan) UnresolvedDependencies() map[int][]string {
	out := make(map[int][]string)
	for _, t := range p.Tasks {
		if len(t.Unresolved) > 0 {
			out[t.Number] = append([]string(nil), t.Unresolved...)
		}
	}
	return out
}

// Validate checks basic structural invariants: unique 1-based task numbers
// and valid statuses.
func (p *Plan) Validate() error {
	seen := make(map[int]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.Number < 1 {
			return fmt.Errorf("task %q has invalid number %d", t.Title, t.Number)
		}
		if seen[t.Number] {
			return fmt.Errorf("duplicate task number %d", t.Number)
		}
		seen[t.Number] = true
		if t.Status != "" && !t.Status.IsValid() {
			return fmt.Errorf("task %d has invalid status %q", t.Number, t.Status)
		}
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("task %d has empty title", t.Number)
		}
	}
	return nil
}
