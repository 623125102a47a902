package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planmux/planmux/internal/plan"
	"github.com/planmux/planmux/internal/types"
	"github.com/planmux/planmux/internal/ui"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect the plan embedded in an issue",
}

var planShowCmd = &cobra.Command{
	Use:   "show <issue>",
	Short: "Render the plan issue body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueNum, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid issue number %q", args[0])
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
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(p)
		}
		fmt.Print(ui.RenderMarkdown(plan.Serialize(p)))
		return nil
	},
}

var planStatusCmd = &cobra.Command{
	Use:   "status <issue>",
	Short: "Show per-task status, claimable tasks, and dependency problems",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueNum, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid issue number %q", args[0])
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

		if jsonOutput {
			return printStatusJSON(p)
		}
		printStatus(p)
		return nil
	},
}

// statusView is the JSON shape of plan status output.
type statusView struct {
	Plan       types.PlanStatus `json:"plan"`
	Tasks      []taskView       `json:"tasks"`
	Claimable  []int            `json:"claimable"`
	Unresolved map[int][]string `json:"unresolved,omitempty"`
}

type taskView struct {
	Number   int          `json:"number"`
	Title    string       `json:"title"`
	Status   types.Status `json:"status"`
	Assignee string       `json:"assignee,omitempty"`
}

func printStatusJSON(p *types.Plan) error {
	view := statusView{Plan: p.Status(), Unresolved: p.UnresolvedDependencies()}
	for _, t := range p.Tasks {
		view.Tasks = append(view.Tasks, taskView{Number: t.Number, Title: t.Title, Status: t.Status, Assignee: t.Assignee})
	}
	for _, t := range p.ClaimableTasks() {
		view.Claimable = append(view.Claimable, t.Number)
	}
	return json.NewEncoder(os.Stdout).Encode(view)
}

func printStatus(p *types.Plan) {
	fmt.Printf("%s  %s\n\n", ui.RenderCategory("plan"), p.Title)
	for _, t := range p.Tasks {
		line := fmt.Sprintf("  Task %d: %-40s %s", t.Number, t.Title, ui.RenderStatus(t.Status))
		if t.Assignee != "" {
			line += ui.RenderMuted("  @" + t.Assignee)
		}
		fmt.Println(line)
	}

	claimable := p.ClaimableTasks()
	if len(claimable) > 0 {
		fmt.Printf("\n%s\n", ui.RenderCategory("claimable"))
		for _, t := range claimable {
			fmt.Printf("  %s Task %d: %s\n", ui.RenderPass(ui.IconPass), t.Number, t.Title)
		}
	}

	if unresolved := p.UnresolvedDependencies(); len(unresolved) > 0 {
		fmt.Printf("\n%s\n", ui.RenderCategory("unresolved dependencies"))
		for num, deps := range unresolved {
			fmt.Printf("  %s Task %d: %s\n", ui.RenderFail(ui.IconWarn), num, strings.Join(deps, "; "))
		}
	}

	fmt.Printf("\nPlan status: %s\n", string(p.Status()))
}

func init() {
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planStatusCmd)
	rootCmd.AddCommand(planCmd)
}
