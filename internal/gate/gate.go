// Package gate implements the execution gate pipeline: the ordered set of
// verification checks a claimed task must pass before a pull request may
// be opened. Gates fail closed: a failure at gate N means gates after N
// are never invoked and the task never reaches completed.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/planmux/planmux/internal/debug"
	"github.com/planmux/planmux/internal/substrate"
	"github.com/planmux/planmux/internal/types"
)

// Gate identifies one verification step, in pipeline order.
type Gate int

// Pipeline gates, strictly ordered.
const (
	GateBranchIdentity Gate = iota
	GateEvidence
	GateTests
	GatePublish
	GateDurability
)

// String returns the gate's stable identifier.
func (g Gate) String() string {
	switch g {
	case GateBranchIdentity:
		return "branch-identity"
	case GateEvidence:
		return "evidence-of-change"
	case GateTests:
		return "tests"
	case GatePublish:
		return "publish"
	case GateDurability:
		return "publish-durability"
	}
	return fmt.Sprintf("gate-%d", int(g))
}

// Failure reports a gate that did not pass. It carries a structured,
// human-readable reason, never a raw error dump, so any peer reading
// the issue thread can see why the task stalled.
type Failure struct {
	Gate   Gate
	Reason string
	Output string // excerpt of test or command output, if any
}

func (f *Failure) Error() string {
	return fmt.Sprintf("gate %d (%s): %s", int(f.Gate), f.Gate, f.Reason)
}

// Report formats the failure for posting back to the issue thread.
func (f *Failure) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "⛔ **Gate %d (%s) failed**\n\n%s\n", int(f.Gate), f.Gate, f.Reason)
	if f.Output != "" {
		fmt.Fprintf(&b, "\n```\n%s\n```\n", excerpt(f.Output, 2000))
	}
	return b.String()
}

// excerpt returns at most n bytes from the tail of s, where failures
// usually are.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}

// GitOps is the slice of git behavior the pipeline needs. *git.Repo
// implements it; tests substitute a fake.
type GitOps interface {
	CurrentBranch(ctx context.Context) (string, error)
	CommitsAhead(ctx context.Context, base string) (int, error)
	HasDiff(ctx context.Context, base string) (bool, error)
	Push(ctx context.Context, remote, branch string) error
}

// trunkBranches are branches external execution must never land work on.
var trunkBranches = map[string]bool{
	"main":    true,
	"master":  true,
	"develop": true,
}

// Pipeline drives a claimed task through the ordered gates.
type Pipeline struct {
	Git         GitOps
	Sub         substrate.Substrate
	Tests       TestRunner
	BaseBranch  string
	Remote      string
	TestTimeout time.Duration
}

// Report is the record of a successful pipeline run.
type Report struct {
	Task     int
	Branch   string
	Commits  int
	TestsRan bool
	// TestOutput holds the (possibly empty) output of the test run.
	TestOutput string
}

// Run executes gates 0 through 4 in strict order for one task. A nil
// error means every gate passed and a pull request may be opened. Any
// returned error of type *Failure means the task must transition to
// blocked and release its assignee.
func (p *Pipeline) Run(ctx context.Context, task *types.Task, branch string) (*Report, error) {
	report := &Report{Task: task.Number, Branch: branch}

	// Gate 0: branch identity. Work must be on the task's designated
	// feature branch, never a trunk branch.
	current, err := p.Git.CurrentBranch(ctx)
	if err != nil {
		return nil, &Failure{Gate: GateBranchIdentity, Reason: fmt.Sprintf("could not determine current branch: %v", err)}
	}
	if trunkBranches[current] || current == p.BaseBranch {
		return nil, &Failure{Gate: GateBranchIdentity,
			Reason: fmt.Sprintf("working tree is on trunk branch `%s`; task work must live on `%s`", current, branch)}
	}
	if current != branch {
		return nil, &Failure{Gate: GateBranchIdentity,
			Reason: fmt.Sprintf("working tree is on `%s`, expected feature branch `%s`", current, branch)}
	}

	// Gate 1, evidence of change: at least one commit beyond base and a
	// non-empty diff. No work product, no progress.
	commits, err := p.Git.CommitsAhead(ctx, p.BaseBranch)
	if err != nil {
		return nil, &Failure{Gate: GateEvidence, Reason: fmt.Sprintf("could not count commits over `%s`: %v", p.BaseBranch, err)}
	}
	if commits == 0 {
		return nil, &Failure{Gate: GateEvidence,
			Reason: fmt.Sprintf("no commits beyond `%s`: no work product exists for task %d", p.BaseBranch, task.Number)}
	}
	hasDiff, err := p.Git.HasDiff(ctx, p.BaseBranch)
	if err != nil {
		return nil, &Failure{Gate: GateEvidence, Reason: fmt.Sprintf("could not diff against `%s`: %v", p.BaseBranch, err)}
	}
	if !hasDiff {
		return nil, &Failure{Gate: GateEvidence,
			Reason: fmt.Sprintf("commits exist but the diff against `%s` is empty", p.BaseBranch)}
	}
	report.Commits = commits

	// Gate 2: tests, conditional on the repo declaring a real test
	// command. Tooling absence is not a test failure.
	if p.Tests != nil {
		result, err := p.Tests.Run(ctx, p.TestTimeout)
		if err != nil {
			return nil, &Failure{Gate: GateTests, Reason: fmt.Sprintf("test runner error: %v", err)}
		}
		report.TestsRan = result.Ran
		report.TestOutput = result.Output
		if result.TimedOut {
			return nil, &Failure{Gate: GateTests,
				Reason: fmt.Sprintf("test run exceeded %s", p.TestTimeout), Output: result.Output}
		}
		if result.Ran && !result.Passed {
			return nil, &Failure{Gate: GateTests, Reason: "tests executed and failed", Output: result.Output}
		}
		if !result.Ran {
			debug.Logf("gate: tests skipped (tooling absent) for task %d\n", task.Number)
		}
	}

	// Gate 3: publish the feature branch.
	if err := p.Git.Push(ctx, p.Remote, branch); err != nil {
		return nil, &Failure{Gate: GatePublish, Reason: fmt.Sprintf("push of `%s` to `%s` failed: %v", branch, p.Remote, err)}
	}

	// Gate 4, publish durability: the push is not considered durable
	// until it is externally visible (read-your-write).
	remoteBranches, err := p.Sub.ListRemoteBranches(ctx)
	if err != nil {
		return nil, &Failure{Gate: GateDurability, Reason: fmt.Sprintf("could not list remote branches: %v", err)}
	}
	found := false
	for _, name := range remoteBranches {
		if name == branch {
			found = true
			break
		}
	}
	if !found {
		return nil, &Failure{Gate: GateDurability,
			Reason: fmt.Sprintf("branch `%s` is not visible on the remote after push", branch)}
	}

	return report, nil
}
