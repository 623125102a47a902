// Package claim implements the leaderless claim protocol: exclusive
// (best-effort) task ownership built on an issue tracker's assignee set,
// with fresh-read verification and a two-phase consensus check for
// contested or lost writes.
package claim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/planmux/planmux/internal/config"
	"github.com/planmux/planmux/internal/debug"
	"github.com/planmux/planmux/internal/plan"
	"github.com/planmux/planmux/internal/substrate"
	"github.com/planmux/planmux/internal/types"
)

// Claimer executes the claim protocol for one agent against one plan issue.
type Claimer struct {
	sub       substrate.Substrate
	self      string
	workspace string
	issue     int
	timing    config.Claim
	guard     *Guard
}

// Result reports the settled outcome of a claim attempt.
type Result struct {
	Task      int
	Won       bool
	ClaimedBy string
	// Contested is set when the consensus re-read observed multiple
	// assignees and the deterministic tie-break decided the winner.
	Contested bool
}

// New creates a Claimer. self is the agent's substrate username, workspace
// scopes the in-process dedup guard, issue is the plan issue number.
func New(sub substrate.Substrate, self, workspace string, issue int, timing config.Claim) *Claimer {
	return &Claimer{
		sub:       sub,
		self:      self,
		workspace: workspace,
		issue:     issue,
		timing:    timing,
		guard:     NewGuard(),
	}
}

// WithGuard shares a guard across claimers in the same process.
func (c *Claimer) WithGuard(g *Guard) *Claimer {
	c.guard = g
	return c
}

// Claim attempts to take exclusive ownership of one task.
//
// snapshot is the caller's in-memory plan, which may be stale; the
// protocol re-fetches the issue immediately before claiming and again
// immediately before every write, narrowing each read-modify-write window
// to a single round trip. The assignee field is the source of truth; the
// body patch is best-effort and self-heals via the next writer's fresh
// read.
func (c *Claimer) Claim(ctx context.Context, snapshot *types.Plan, taskNum int) (*Result, error) {
	// Step 1: local precondition check against the snapshot.
	task := snapshot.Task(taskNum)
	if task == nil {
		return nil, fmt.Errorf("task %d not in plan", taskNum)
	}
	if task.Assignee != "" && task.Assignee != c.self {
		return nil, &ConflictError{Task: taskNum, ClaimedBy: task.Assignee}
	}
	if !task.Claimable(snapshot.CompletedSet()) {
		return nil, &StaleReadError{Task: taskNum, Reason: fmt.Sprintf("status %s with unmet preconditions", task.Status)}
	}

	// Step 2: in-process dedup guard.
	if !c.guard.TryAcquire(c.workspace, c.issue, taskNum) {
		return nil, ErrClaimInFlight
	}

	result, err := c.claimLocked(ctx, taskNum)
	if err != nil || !result.Won {
		c.guard.Release(c.workspace, c.issue, taskNum)
	}
	return result, err
}

func (c *Claimer) claimLocked(ctx context.Context, taskNum int) (*Result, error) {
	// Step 3: fresh-read verification immediately before claiming.
	_, freshPlan, err := c.fetchPlan(ctx)
	if err != nil {
		return &Result{Task: taskNum}, err
	}
	freshTask := freshPlan.Task(taskNum)
	if freshTask == nil {
		return &Result{Task: taskNum}, &StaleReadError{Task: taskNum, Reason: "task no longer in plan"}
	}
	if freshTask.Assignee != "" && freshTask.Assignee != c.self {
		return &Result{Task: taskNum, ClaimedBy: freshTask.Assignee},
			&ConflictError{Task: taskNum, ClaimedBy: freshTask.Assignee}
	}
	if !freshTask.Claimable(freshPlan.CompletedSet()) && freshTask.Assignee != c.self {
		return &Result{Task: taskNum}, &StaleReadError{Task: taskNum, Reason: fmt.Sprintf("fresh read shows status %s", freshTask.Status)}
	}

	// Step 4: the claim itself. A failure here aborts without touching
	// the body.
	if err := c.sub.AddAssignee(ctx, c.issue, c.self); err != nil {
		return &Result{Task: taskNum}, err
	}

	// Step 5: body update against the current body, not the snapshot.
	status := types.StatusClaimed
	if err := c.patchTask(ctx, taskNum, plan.TaskPatch{Status: &status, Assignee: &c.self}); err != nil {
		// The assignee field is the source of truth; the next
		// successful writer self-heals the body.
		debug.Logf("claim: body update failed for task %d, keeping claim: %v\n", taskNum, err)
	}

	// Step 6: best-effort announcement.
	announce := fmt.Sprintf("🤖 Claiming **Task %d: %s** (agent `%s`)", taskNum, freshTask.Title, c.self)
	if err := c.sub.PostComment(ctx, c.issue, announce); err != nil {
		debug.Logf("claim: announcement failed for task %d: %v\n", taskNum, err)
	}

	// Two-phase consensus check.
	return c.verify(ctx, taskNum)
}

// verify is the two-phase consensus check executed at elapsed primary
// delay T0 after the claim write.
func (c *Claimer) verify(ctx context.Context, taskNum int) (*Result, error) {
	if err := sleepCtx(ctx, c.timing.CheckDelay); err != nil {
		return &Result{Task: taskNum}, err
	}

	issue, err := c.sub.GetIssue(ctx, c.issue)
	if err != nil {
		return &Result{Task: taskNum}, err
	}

	switch {
	case len(issue.Assignees) > 1:
		return c.resolveContest(ctx, taskNum)
	case len(issue.Assignees) == 0:
		return c.resolveSuspectedLoss(ctx, taskNum)
	case issue.Assignees[0] == c.self:
		debug.LogEvent("CLAIM_WON", fmt.Sprintf("issue-%d/task-%d", c.issue, taskNum), "")
		return &Result{Task: taskNum, Won: true, ClaimedBy: c.self}, nil
	default:
		// Someone else's claim displaced ours entirely.
		debug.LogEvent("CLAIM_LOST", fmt.Sprintf("issue-%d/task-%d", c.issue, taskNum), issue.Assignees[0])
		return &Result{Task: taskNum, ClaimedBy: issue.Assignees[0]},
			&ConflictError{Task: taskNum, ClaimedBy: issue.Assignees[0]}
	}
}

// resolveContest handles the both-peers-wrote-before-observing-each-other
// case: wait the contest extension, re-read, and apply a deterministic
// tie-break that every peer computes identically, so all sides converge
// without talking to each other. The rule is the lexicographically
// smallest assignee login in the re-read; it is a pure function of the
// observed set.
func (c *Claimer) resolveContest(ctx context.Context, taskNum int) (*Result, error) {
	if err := sleepCtx(ctx, c.timing.ContestExtension); err != nil {
		return &Result{Task: taskNum}, err
	}
	issue, err := c.sub.GetIssue(ctx, c.issue)
	if err != nil {
		return &Result{Task: taskNum}, err
	}
	if len(issue.Assignees) == 1 && issue.Assignees[0] == c.self {
		// The other peer already backed off.
		debug.LogEvent("CLAIM_WON", fmt.Sprintf("issue-%d/task-%d", c.issue, taskNum), "contest settled")
		c.restampBody(ctx, taskNum)
		return &Result{Task: taskNum, Won: true, ClaimedBy: c.self, Contested: true}, nil
	}
	if len(issue.Assignees) == 0 {
		return c.resolveSuspectedLoss(ctx, taskNum)
	}

	winner := minLogin(issue.Assignees)
	if winner == c.self {
		debug.LogEvent("CLAIM_WON", fmt.Sprintf("issue-%d/task-%d", c.issue, taskNum), "tie-break")
		c.restampBody(ctx, taskNum)
		return &Result{Task: taskNum, Won: true, ClaimedBy: c.self, Contested: true}, nil
	}

	// We lost the tie-break: remove our own assignee entry and revert
	// local state to pending. The winner's next write heals the body.
	if err := c.sub.RemoveAssignee(ctx, c.issue, c.self); err != nil {
		debug.Logf("claim: failed to back off contested claim on task %d: %v\n", taskNum, err)
	}
	debug.LogEvent("CLAIM_LOST", fmt.Sprintf("issue-%d/task-%d", c.issue, taskNum), "tie-break to "+winner)
	return &Result{Task: taskNum, ClaimedBy: winner, Contested: true},
		&ConflictError{Task: taskNum, ClaimedBy: winner}
}

// restampBody re-applies the claimed stamp against a fresh body after a
// contested win. The losing peer's step-5 body patch may have been the
// last body write, and the loser only removes its assignee entry when it
// backs off, so without this write the body would keep the loser's stamp
// with no later writer to heal it.
func (c *Claimer) restampBody(ctx context.Context, taskNum int) {
	status := types.StatusClaimed
	if err := c.patchTask(ctx, taskNum, plan.TaskPatch{Status: &status, Assignee: &c.self}); err != nil {
		debug.Logf("claim: body re-stamp failed for task %d: %v\n", taskNum, err)
	}
}

// resolveSuspectedLoss handles a zero-assignee read after a claim that
// should have landed: wait the propagation extension and re-read once more
// before concluding the write was lost.
func (c *Claimer) resolveSuspectedLoss(ctx context.Context, taskNum int) (*Result, error) {
	if err := sleepCtx(ctx, c.timing.PropagationExtension); err != nil {
		return &Result{Task: taskNum}, err
	}
	issue, err := c.sub.GetIssue(ctx, c.issue)
	if err != nil {
		return &Result{Task: taskNum}, err
	}
	for _, a := range issue.Assignees {
		if a == c.self {
			// Replication lag, not loss.
			debug.LogEvent("CLAIM_WON", fmt.Sprintf("issue-%d/task-%d", c.issue, taskNum), "after propagation delay")
			return &Result{Task: taskNum, Won: true, ClaimedBy: c.self}, nil
		}
	}
	if len(issue.Assignees) > 0 {
		return &Result{Task: taskNum, ClaimedBy: issue.Assignees[0]},
			&ConflictError{Task: taskNum, ClaimedBy: issue.Assignees[0]}
	}
	debug.LogEvent("CLAIM_LOST", fmt.Sprintf("issue-%d/task-%d", c.issue, taskNum), "write lost")
	return &Result{Task: taskNum}, &LostWriteError{Task: taskNum}
}

// Release gives up a held claim: remove self from assignees, reset the
// task to pending with no assignee, and announce the release.
func (c *Claimer) Release(ctx context.Context, taskNum int) error {
	defer c.guard.Release(c.workspace, c.issue, taskNum)

	if err := c.sub.RemoveAssignee(ctx, c.issue, c.self); err != nil {
		return err
	}
	status := types.StatusPending
	empty := ""
	if err := c.patchTask(ctx, taskNum, plan.TaskPatch{Status: &status, Assignee: &empty}); err != nil {
		debug.Logf("claim: body reset failed for task %d: %v\n", taskNum, err)
	}
	text := fmt.Sprintf("🤖 Released **Task %d** (agent `%s`); it is claimable again.", taskNum, c.self)
	if err := c.sub.PostComment(ctx, c.issue, text); err != nil {
		debug.Logf("claim: release comment failed for task %d: %v\n", taskNum, err)
	}
	debug.LogEvent("CLAIM_RELEASED", fmt.Sprintf("issue-%d/task-%d", c.issue, taskNum), "")
	return nil
}

// fetchPlan reads the issue and parses its body into a plan.
func (c *Claimer) fetchPlan(ctx context.Context) (*substrate.Issue, *types.Plan, error) {
	issue, err := c.sub.GetIssue(ctx, c.issue)
	if err != nil {
		return nil, nil, err
	}
	p, ok := plan.Parse(issue.Body, issue.Title)
	if !ok {
		return nil, nil, fmt.Errorf("issue %d does not carry a plan marker", c.issue)
	}
	return issue, p, nil
}

// patchTask applies a scoped body patch against a freshly fetched body.
func (c *Claimer) patchTask(ctx context.Context, taskNum int, patch plan.TaskPatch) error {
	issue, err := c.sub.GetIssue(ctx, c.issue)
	if err != nil {
		return err
	}
	newBody, err := plan.UpdateTaskInBody(issue.Body, taskNum, patch)
	if err != nil {
		return err
	}
	return c.sub.UpdateIssueBody(ctx, c.issue, newBody)
}

// minLogin returns the lexicographically smallest login.
func minLogin(logins []string) string {
	sorted := append([]string(nil), logins...)
	sort.Strings(sorted)
	return sorted[0]
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
