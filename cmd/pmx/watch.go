package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/planmux/planmux/internal/git"
	"github.com/planmux/planmux/internal/lifecycle"
	"github.com/planmux/planmux/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <issue>",
	Short: "Watch for merge notifications and finalize completed tasks",
	Long: `Watches <workspace>/.planmux/events/ for merge notification files
(JSON, type "pr_merged") delivered by a webhook receiver. Each merge marks
the task completed, clears the assignee, and deletes the merged feature
branch; when the last task merges, the plan issue itself is finalized and
closed. Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueNum, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid issue number %q", args[0])
		}
		if err := requireActor(); err != nil {
			return err
		}
		sub, err := newSubstrate()
		if err != nil {
			return err
		}

		workspace := workspaceRoot()
		reporter := &lifecycle.Reporter{
			Sub:           sub,
			Git:           git.Open(workspace),
			Self:          cfg.Actor,
			Issue:         issueNum,
			Remote:        cfg.Remote,
			ActiveLabel:   labelActive,
			CompleteLabel: labelComplete,
		}
		watcher := &lifecycle.Watcher{
			Reporter: reporter,
			Dir:      filepath.Join(workspace, ".planmux", "events"),
		}

		fmt.Printf("Watching %s for merge events on issue %d %s\n",
			watcher.Dir, issueNum, ui.RenderMuted("(Ctrl-C to stop)"))
		if err := watcher.Watch(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
