package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/planmux/planmux/internal/git"
	"github.com/planmux/planmux/internal/orphan"
	"github.com/planmux/planmux/internal/plan"
	"github.com/planmux/planmux/internal/ui"
)

var recoverDir string

var recoverCmd = &cobra.Command{
	Use:   "recover <issue> <task>",
	Short: "Recover a task whose branch was pushed but whose PR never opened",
	Long: `Re-clones the repository into a fresh directory, locates the task's
pushed feature branch (canonical naming first, then legacy, then a unique
prefix match), and checks it out so the run can resume at PR creation.
An ambiguous branch match is never auto-recovered.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueNum, taskNum, err := parseIssueTask(args)
		if err != nil {
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

		dir := recoverDir
		if dir == "" {
			dir, err = os.MkdirTemp("", fmt.Sprintf("pmx-recover-task-%d-", taskNum))
			if err != nil {
				return err
			}
		}

		recoverer := &orphan.Recoverer{
			CloneURL: fmt.Sprintf("https://github.com/%s/%s.git", cfg.Owner, cfg.Repo),
			Remote:   cfg.Remote,
			Clone: func(ctx context.Context, url, dir string) (orphan.RepoOps, error) {
				return git.Clone(ctx, url, dir)
			},
		}
		_, branch, err := recoverer.Recover(rootCtx, task, dir)
		if err != nil {
			return err
		}

		abs, _ := filepath.Abs(dir)
		fmt.Printf("%s Recovered branch %s into %s\n", ui.RenderPass(ui.IconPass), branch, abs)
		fmt.Printf("Resume with: pmx run %d %d --dir %s\n", issueNum, taskNum, abs)
		return nil
	},
}

func init() {
	recoverCmd.Flags().StringVar(&recoverDir, "dir", "", "Directory for the recovery clone (default: temp dir)")
	rootCmd.AddCommand(recoverCmd)
}
