package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planmux/planmux/internal/substrate"
	"github.com/planmux/planmux/internal/types"
)

// fakeGit is a scriptable GitOps for pipeline tests.
type fakeGit struct {
	branch  string
	commits int
	diff    bool
	pushErr error
	pushed  []string
}

func (f *fakeGit) CurrentBranch(context.Context) (string, error)     { return f.branch, nil }
func (f *fakeGit) CommitsAhead(context.Context, string) (int, error) { return f.commits, nil }
func (f *fakeGit) HasDiff(context.Context, string) (bool, error)     { return f.diff, nil }
func (f *fakeGit) Push(_ context.Context, remote, branch string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, remote+"/"+branch)
	return nil
}

// fakeTests returns a canned result.
type fakeTests struct {
	result *TestResult
	err    error
}

func (f *fakeTests) Run(context.Context, time.Duration) (*TestResult, error) {
	return f.result, f.err
}

func testTask() *types.Task {
	return &types.Task{Number: 2, Title: "Implement the parser", Status: types.StatusInProgress}
}

func newPipeline(git *fakeGit, tests TestRunner, sub substrate.Substrate) *Pipeline {
	return &Pipeline{
		Git:         git,
		Sub:         sub,
		Tests:       tests,
		BaseBranch:  "main",
		Remote:      "origin",
		TestTimeout: time.Second,
	}
}

func TestPipelineAllGatesPass(t *testing.T) {
	branch := testTask().BranchName()
	git := &fakeGit{branch: branch, commits: 3, diff: true}
	sub := substrate.NewFake()
	sub.SetBranches("main", branch)

	p := newPipeline(git, &fakeTests{result: &TestResult{Ran: true, Passed: true, Output: "ok"}}, sub)
	report, err := p.Run(context.Background(), testTask(), branch)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Commits)
	assert.True(t, report.TestsRan)
	assert.Equal(t, []string{"origin/" + branch}, git.pushed)
}

func TestPipelineRejectsTrunkBranch(t *testing.T) {
	for _, trunk := range []string{"main", "master", "develop"} {
		t.Run(trunk, func(t *testing.T) {
			git := &fakeGit{branch: trunk, commits: 5, diff: true}
			p := newPipeline(git, nil, substrate.NewFake())

			_, err := p.Run(context.Background(), testTask(), testTask().BranchName())

			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, GateBranchIdentity, failure.Gate)
			assert.Empty(t, git.pushed, "no later gate runs after a failure")
		})
	}
}

func TestPipelineRejectsWrongFeatureBranch(t *testing.T) {
	git := &fakeGit{branch: "task/9-other-work", commits: 1, diff: true}
	p := newPipeline(git, nil, substrate.NewFake())

	_, err := p.Run(context.Background(), testTask(), testTask().BranchName())

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, GateBranchIdentity, failure.Gate)
}

func TestPipelineRequiresCommits(t *testing.T) {
	branch := testTask().BranchName()
	git := &fakeGit{branch: branch, commits: 0, diff: true}
	p := newPipeline(git, nil, substrate.NewFake())

	_, err := p.Run(context.Background(), testTask(), branch)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, GateEvidence, failure.Gate)
	assert.Empty(t, git.pushed)
}

func TestPipelineRequiresNonEmptyDiff(t *testing.T) {
	branch := testTask().BranchName()
	git := &fakeGit{branch: branch, commits: 2, diff: false}
	p := newPipeline(git, nil, substrate.NewFake())

	_, err := p.Run(context.Background(), testTask(), branch)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, GateEvidence, failure.Gate)
}

func TestPipelineTestFailureBlocks(t *testing.T) {
	branch := testTask().BranchName()
	git := &fakeGit{branch: branch, commits: 1, diff: true}
	tests := &fakeTests{result: &TestResult{Ran: true, Passed: false, Output: "1 test failed"}}
	p := newPipeline(git, tests, substrate.NewFake())

	_, err := p.Run(context.Background(), testTask(), branch)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, GateTests, failure.Gate)
	assert.Contains(t, failure.Output, "1 test failed")
	assert.Empty(t, git.pushed, "failing tests must never publish")
}

func TestPipelineTestTimeoutBlocks(t *testing.T) {
	branch := testTask().BranchName()
	git := &fakeGit{branch: branch, commits: 1, diff: true}
	tests := &fakeTests{result: &TestResult{Ran: true, TimedOut: true, Output: "partial output"}}
	p := newPipeline(git, tests, substrate.NewFake())

	_, err := p.Run(context.Background(), testTask(), branch)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, GateTests, failure.Gate)
}

func TestPipelineToolingAbsentPasses(t *testing.T) {
	branch := testTask().BranchName()
	git := &fakeGit{branch: branch, commits: 1, diff: true}
	sub := substrate.NewFake()
	sub.SetBranches(branch)
	tests := &fakeTests{result: &TestResult{Ran: false, Output: "sh: vitest: command not found"}}
	p := newPipeline(git, tests, sub)

	report, err := p.Run(context.Background(), testTask(), branch)
	require.NoError(t, err, "absent tooling is not a test failure")
	assert.False(t, report.TestsRan)
}

func TestPipelinePushFailure(t *testing.T) {
	branch := testTask().BranchName()
	git := &fakeGit{branch: branch, commits: 1, diff: true, pushErr: errors.New("remote hung up")}
	p := newPipeline(git, nil, substrate.NewFake())

	_, err := p.Run(context.Background(), testTask(), branch)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, GatePublish, failure.Gate)
}

func TestPipelineDurabilityRequiresRemoteVisibility(t *testing.T) {
	branch := testTask().BranchName()
	git := &fakeGit{branch: branch, commits: 1, diff: true}
	sub := substrate.NewFake()
	sub.SetBranches("main") // push acked but branch never visible

	p := newPipeline(git, nil, sub)
	_, err := p.Run(context.Background(), testTask(), branch)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, GateDurability, failure.Gate)
}

func TestFailureReport(t *testing.T) {
	f := &Failure{Gate: GateTests, Reason: "tests executed and failed", Output: "expected 4, got 5"}

	report := f.Report()
	assert.Contains(t, report, "Gate 2 (tests) failed")
	assert.Contains(t, report, "tests executed and failed")
	assert.Contains(t, report, "expected 4, got 5")

	bare := &Failure{Gate: GateEvidence, Reason: "no commits"}
	assert.NotContains(t, bare.Report(), "```", "no code fence without output")
}

func TestGateString(t *testing.T) {
	assert.Equal(t, "branch-identity", GateBranchIdentity.String())
	assert.Equal(t, "evidence-of-change", GateEvidence.String())
	assert.Equal(t, "tests", GateTests.String())
	assert.Equal(t, "publish", GatePublish.String())
	assert.Equal(t, "publish-durability", GateDurability.String())
}
