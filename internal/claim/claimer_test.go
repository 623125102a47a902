package claim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planmux/planmux/internal/config"
	"github.com/planmux/planmux/internal/plan"
	"github.com/planmux/planmux/internal/substrate"
	"github.com/planmux/planmux/internal/types"
)

// fastTiming keeps consensus waits near-zero so tests settle immediately.
var fastTiming = config.Claim{
	CheckDelay:           time.Millisecond,
	ContestExtension:     time.Millisecond,
	PropagationExtension: time.Millisecond,
}

const claimTestBody = `[PLAN]

## Tasks

### Task 1: Schema
**Status:** completed

---

### Task 2: Parser
**Status:** pending
**Dependencies:** Task 1

---

### Task 3: CLI
**Status:** pending
**Dependencies:** Task 2
`

func seedPlanIssue(t *testing.T, fake *substrate.Fake) *types.Plan {
	t.Helper()
	fake.SeedIssue(&substrate.Issue{
		Number: 7,
		Title:  "[PLAN] Pipeline",
		Body:   claimTestBody,
		State:  "open",
	})
	p, ok := plan.Parse(claimTestBody, "[PLAN] Pipeline")
	require.True(t, ok)
	return p
}

func TestClaimSingleWinner(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	assert.True(t, result.Won)
	assert.False(t, result.Contested)
	assert.Equal(t, "agent-a", result.ClaimedBy)

	issue := fake.Issue(7)
	assert.Equal(t, []string{"agent-a"}, issue.Assignees)

	p, ok := plan.Parse(issue.Body, issue.Title)
	require.True(t, ok)
	task := p.Task(2)
	assert.Equal(t, types.StatusClaimed, task.Status)
	assert.Equal(t, "agent-a", task.Assignee)

	comments := fake.Comments(7)
	require.NotEmpty(t, comments, "a claim is announced on the thread")
	assert.Contains(t, comments[0], "Task 2")
	assert.Contains(t, comments[0], "agent-a")
}

func TestClaimSnapshotConflict(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)
	snapshot.Task(2).Assignee = "agent-b"

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	_, err := c.Claim(context.Background(), snapshot, 2)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "agent-b", conflict.ClaimedBy)
	assert.Empty(t, fake.Issue(7).Assignees, "a snapshot conflict never touches the substrate")
}

func TestClaimDependenciesUnmet(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	_, err := c.Claim(context.Background(), snapshot, 3)

	var stale *StaleReadError
	require.ErrorAs(t, err, &stale, "task 3 depends on unfinished task 2")
}

func TestClaimFreshReadConflict(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	// Another agent claims between our snapshot and our attempt.
	status := types.StatusClaimed
	rival := "agent-b"
	body, err := plan.UpdateTaskInBody(claimTestBody, 2, plan.TaskPatch{Status: &status, Assignee: &rival})
	require.NoError(t, err)
	require.NoError(t, fake.UpdateIssueBody(context.Background(), 7, body))

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	_, err = c.Claim(context.Background(), snapshot, 2)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "agent-b", conflict.ClaimedBy)
	assert.Empty(t, fake.Issue(7).Assignees, "the fresh read aborts before any write")
}

func TestClaimContestedTieBreakWin(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)
	// A rival's assignee write has landed but its body patch has not.
	require.NoError(t, fake.AddAssignee(context.Background(), 7, "agent-b"))

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	assert.True(t, result.Won, "agent-a sorts before agent-b and wins the tie-break")
	assert.True(t, result.Contested)
}

func TestClaimContestedTieBreakLoss(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)
	require.NoError(t, fake.AddAssignee(context.Background(), 7, "agent-a"))

	c := New(fake, "agent-b", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "agent-a", conflict.ClaimedBy)
	assert.True(t, result.Contested)
	assert.Equal(t, []string{"agent-a"}, fake.Issue(7).Assignees,
		"the loser removes its own assignee entry")
}

// stampRival overwrites the task's body stamp with a rival's claim, the
// way the rival's own step-5 body patch would.
func stampRival(t *testing.T, fake *substrate.Fake, taskNum int, rival string) {
	t.Helper()
	status := types.StatusClaimed
	body, err := plan.UpdateTaskInBody(fake.Issue(7).Body, taskNum, plan.TaskPatch{Status: &status, Assignee: &rival})
	require.NoError(t, err)
	require.NoError(t, fake.UpdateIssueBody(context.Background(), 7, body))
}

func TestClaimContestedWinnerBodyConverges(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	// The rival's assignee write landed first; its body patch lands
	// during agent-a's primary check delay, making it the last body
	// write before consensus settles. The rival then observes the
	// contest at its own check and backs off.
	require.NoError(t, fake.AddAssignee(context.Background(), 7, "agent-b"))
	fake.RunBeforeRead(3, func() { stampRival(t, fake, 2, "agent-b") })
	fake.RunBeforeRead(4, func() {
		require.NoError(t, fake.RemoveAssignee(context.Background(), 7, "agent-b"))
	})

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	assert.True(t, result.Won)
	assert.True(t, result.Contested)

	issue := fake.Issue(7)
	assert.Equal(t, []string{"agent-a"}, issue.Assignees)
	p, ok := plan.Parse(issue.Body, issue.Title)
	require.True(t, ok)
	task := p.Task(2)
	assert.Equal(t, types.StatusClaimed, task.Status)
	assert.Equal(t, "agent-a", task.Assignee,
		"the settled winner's stamp must overwrite the loser's last body write")
}

func TestClaimTieBreakWinnerOverwritesRivalStamp(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	// Same interleaving, but the rival has not yet backed off when the
	// contest re-read happens; agent-a wins on the tie-break.
	require.NoError(t, fake.AddAssignee(context.Background(), 7, "agent-b"))
	fake.RunBeforeRead(3, func() { stampRival(t, fake, 2, "agent-b") })

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	assert.True(t, result.Won)
	assert.True(t, result.Contested)

	p, ok := plan.Parse(fake.Issue(7).Body, "[PLAN] t")
	require.True(t, ok)
	assert.Equal(t, "agent-a", p.Task(2).Assignee)
	assert.Equal(t, types.StatusClaimed, p.Task(2).Status)
}

func TestClaimLostWrite(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)
	fake.LoseNextAssigneeWrite()

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	_, err := c.Claim(context.Background(), snapshot, 2)

	var lost *LostWriteError
	require.ErrorAs(t, err, &lost)
	assert.Equal(t, 2, lost.Task)
}

func TestClaimPropagationLagIsNotLoss(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	// The first three reads (fresh-read, body patch, T0 verify) see the
	// pre-claim state; only the propagation-extension re-read is current.
	fake.ServeStaleReads(3)

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	assert.True(t, result.Won, "replication lag resolves to a win, not a lost write")
}

func TestClaimSurvivesBodyWriteFailure(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)
	fake.FailNextBodyWrite()

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	assert.True(t, result.Won, "the assignee field, not the body, is the source of truth")
	assert.Equal(t, []string{"agent-a"}, fake.Issue(7).Assignees)
}

func TestClaimAssigneeWriteFailureAborts(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)
	fake.FailNextAssigneeWrite()

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	_, err := c.Claim(context.Background(), snapshot, 2)
	require.Error(t, err)

	var subErr *substrate.Error
	assert.ErrorAs(t, err, &subErr)
	issue := fake.Issue(7)
	assert.Contains(t, issue.Body, "**Status:** pending", "an aborted claim never patches the body")
}

func TestClaimInFlightGuard(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	require.True(t, result.Won)

	_, err = c.Claim(context.Background(), snapshot, 2)
	assert.ErrorIs(t, err, ErrClaimInFlight, "a held claim dedupes repeat attempts in-process")
}

func TestGuardSharedAcrossClaimers(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	g := NewGuard()
	c1 := New(fake, "agent-a", "/ws", 7, fastTiming).WithGuard(g)
	c2 := New(fake, "agent-a", "/ws", 7, fastTiming).WithGuard(g)

	result, err := c1.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	require.True(t, result.Won)

	_, err = c2.Claim(context.Background(), snapshot, 2)
	assert.ErrorIs(t, err, ErrClaimInFlight)
}

func TestRelease(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	c := New(fake, "agent-a", "/ws", 7, fastTiming)
	result, err := c.Claim(context.Background(), snapshot, 2)
	require.NoError(t, err)
	require.True(t, result.Won)

	require.NoError(t, c.Release(context.Background(), 2))

	issue := fake.Issue(7)
	assert.Empty(t, issue.Assignees)
	p, ok := plan.Parse(issue.Body, issue.Title)
	require.True(t, ok)
	task := p.Task(2)
	assert.Equal(t, types.StatusPending, task.Status)
	assert.Empty(t, task.Assignee)

	// The guard is free again: the task can be re-claimed.
	reclaimed, err := c.Claim(context.Background(), p, 2)
	require.NoError(t, err)
	assert.True(t, reclaimed.Won)
}

func TestClaimCancelledContext(t *testing.T) {
	fake := substrate.NewFake()
	snapshot := seedPlanIssue(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := fastTiming
	slow.CheckDelay = time.Minute
	c := New(fake, "agent-a", "/ws", 7, slow)
	_, err := c.Claim(ctx, snapshot, 2)
	assert.True(t, errors.Is(err, context.Canceled))
}
