package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/planmux/planmux/internal/gate"
	"github.com/planmux/planmux/internal/git"
	"github.com/planmux/planmux/internal/lifecycle"
	"github.com/planmux/planmux/internal/peers"
	"github.com/planmux/planmux/internal/plan"
	"github.com/planmux/planmux/internal/ui"
)

var runDir string

var runCmd = &cobra.Command{
	Use:   "run <issue> <task>",
	Short: "Verify a claimed task through the gate pipeline and open its PR",
	Long: `Drives a claimed task through the ordered verification gates: branch
identity, evidence of change, tests, publish, and publish durability. If
every gate passes, a pull request is opened with reviewers requested from
the peer registry. If any gate fails, the task transitions to blocked,
the claim is released, and the reason is posted to the issue thread.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueNum, taskNum, err := parseIssueTask(args)
		if err != nil {
			return err
		}
		if err := requireActor(); err != nil {
			return err
		}
		sub, err := newSubstrate()
		if err != nil {
			return err
		}

		issue, err := sub.GetIssue(rootCtx, issueNum)
		if err != nil {
			return err
		}
		p, ok := plan.Parse(issue.Body, issue.Title)
		if !ok {
			return fmt.Errorf("issue %d does not carry a plan marker", issueNum)
		}
		task := p.Task(taskNum)
		if task == nil {
			return fmt.Errorf("task %d not in plan", taskNum)
		}
		if task.Assignee != cfg.Actor {
			return fmt.Errorf("task %d is not claimed by %s (assignee: %q); claim it first", taskNum, cfg.Actor, task.Assignee)
		}

		reporter := &lifecycle.Reporter{
			Sub:           sub,
			Self:          cfg.Actor,
			Issue:         issueNum,
			Remote:        cfg.Remote,
			ActiveLabel:   labelActive,
			CompleteLabel: labelComplete,
		}
		if err := reporter.MarkInProgress(rootCtx, taskNum); err != nil {
			return fmt.Errorf("could not mark task %d in progress: %w", taskNum, err)
		}

		dir := runDir
		if dir == "" {
			dir, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		repo := git.Open(dir)
		pipeline := &gate.Pipeline{
			Git:         repo,
			Sub:         sub,
			Tests:       &gate.CommandTestRunner{Dir: dir},
			BaseBranch:  cfg.BaseBranch,
			Remote:      cfg.Remote,
			TestTimeout: cfg.Gates.TestTimeout,
		}

		// The whole verification run is bounded by the agent timeout.
		runCtx, cancel := context.WithTimeout(rootCtx, cfg.Gates.AgentTimeout)
		defer cancel()

		branch := task.BranchName()
		report, err := pipeline.Run(runCtx, task, branch)
		if err != nil {
			var failure *gate.Failure
			if errors.As(err, &failure) {
				fmt.Fprintf(os.Stderr, "%s Gate %d (%s) failed: %s\n",
					ui.RenderFail(ui.IconFail), int(failure.Gate), failure.Gate, failure.Reason)
				if reportErr := reporter.ReportTaskBlocked(rootCtx, taskNum, failure.Report()); reportErr != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not report blocked state: %v\n", reportErr)
				}
				return err
			}
			return err
		}

		fmt.Printf("%s All gates passed (%d commits on %s", ui.RenderPass(ui.IconPass), report.Commits, report.Branch)
		if report.TestsRan {
			fmt.Print(", tests passed")
		} else {
			fmt.Print(", no test tooling detected")
		}
		fmt.Println(")")

		reg, err := peers.Load(workspaceRoot())
		if err != nil {
			return err
		}
		pr, err := gate.OpenPullRequest(rootCtx, sub, reg, task, branch, cfg.BaseBranch, cfg.Actor, cfg.ReviewerCap)
		if err != nil {
			// The branch is already published; the claim survives so the
			// orphan recoverer (or a retry) can resume at PR creation.
			return fmt.Errorf("pull request creation failed (branch %s is pushed; retry with `pmx recover`): %w", branch, err)
		}
		fmt.Printf("%s Opened PR #%d: %s\n", ui.RenderPass(ui.IconPass), pr.Number, pr.URL)
		fmt.Println(ui.RenderMuted("Task completes when the PR merges (see `pmx watch`)."))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runDir, "dir", "", "Working tree to verify (default: current directory)")
	rootCmd.AddCommand(runCmd)
}
