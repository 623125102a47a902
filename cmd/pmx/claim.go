package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/planmux/planmux/internal/claim"
	"github.com/planmux/planmux/internal/plan"
	"github.com/planmux/planmux/internal/ui"
)

var claimCmd = &cobra.Command{
	Use:   "claim <issue> <task>",
	Short: "Claim exclusive ownership of a task",
	Long: `Attempts to claim a task on the plan issue. The claim is settled by a
two-phase consensus check against the issue's assignee field: the command
only reports success once the re-read confirms this agent holds the claim
alone (or won the deterministic tie-break).`,
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
		snapshot, ok := plan.Parse(issue.Body, issue.Title)
		if !ok {
			return fmt.Errorf("issue %d does not carry a plan marker", issueNum)
		}

		claimer := claim.New(sub, cfg.Actor, workspaceRoot(), issueNum, cfg.Claim)
		result, err := claimer.Claim(rootCtx, snapshot, taskNum)
		if err != nil {
			return reportClaimError(taskNum, err)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		if result.Contested {
			fmt.Printf("%s Claimed task %d (won contested claim)\n", ui.RenderPass(ui.IconPass), taskNum)
		} else {
			fmt.Printf("%s Claimed task %d\n", ui.RenderPass(ui.IconPass), taskNum)
		}
		return nil
	},
}

// reportClaimError turns protocol errors into actionable messages; a lost
// claim is an expected coordination outcome, not a crash.
func reportClaimError(taskNum int, err error) error {
	var conflict *claim.ConflictError
	var stale *claim.StaleReadError
	var lost *claim.LostWriteError
	switch {
	case errors.As(err, &conflict):
		return fmt.Errorf("task %d is already claimed by %s", taskNum, conflict.ClaimedBy)
	case errors.As(err, &stale):
		return fmt.Errorf("task %d is not claimable: %s (re-read the plan and pick another task)", taskNum, stale.Reason)
	case errors.As(err, &lost):
		return fmt.Errorf("claim write for task %d was lost by the substrate; retry the claim", taskNum)
	case errors.Is(err, claim.ErrClaimInFlight):
		return fmt.Errorf("a claim for task %d is already in flight in this process", taskNum)
	}
	return err
}

func parseIssueTask(args []string) (int, int, error) {
	issueNum, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid issue number %q", args[0])
	}
	taskNum, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid task number %q", args[1])
	}
	return issueNum, taskNum, nil
}

func init() {
	rootCmd.AddCommand(claimCmd)
}
