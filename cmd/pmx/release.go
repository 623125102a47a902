package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/planmux/planmux/internal/claim"
	"github.com/planmux/planmux/internal/ui"
)

var releaseYes bool

var releaseCmd = &cobra.Command{
	Use:   "release <issue> <task>",
	Short: "Give up a held claim so peers can take the task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueNum, taskNum, err := parseIssueTask(args)
		if err != nil {
			return err
		}
		if err := requireActor(); err != nil {
			return err
		}

		if !releaseYes && !ui.IsAgentMode() {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Release task %d on issue %d?", taskNum, issueNum)).
				Description("The task returns to pending and any peer may claim it.").
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Release cancelled.")
				return nil
			}
		}

		sub, err := newSubstrate()
		if err != nil {
			return err
		}
		claimer := claim.New(sub, cfg.Actor, workspaceRoot(), issueNum, cfg.Claim)
		if err := claimer.Release(rootCtx, taskNum); err != nil {
			return err
		}
		fmt.Printf("%s Released task %d\n", ui.RenderPass(ui.IconPass), taskNum)
		return nil
	},
}

func init() {
	releaseCmd.Flags().BoolVarP(&releaseYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(releaseCmd)
}
