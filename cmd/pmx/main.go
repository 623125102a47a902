package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/planmux/planmux/internal/config"
	"github.com/planmux/planmux/internal/debug"
	"github.com/planmux/planmux/internal/substrate"
	"github.com/planmux/planmux/internal/telemetry"
)

// Version information, injected at build time via -ldflags.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	cfg         *config.Config
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// Labels swapped on the plan issue when the plan finishes.
const (
	labelActive   = "planmux:active"
	labelComplete = "planmux:complete"
)

var rootCmd = &cobra.Command{
	Use:   "pmx",
	Short: "pmx - Multi-agent task coordination over a shared plan issue",
	Long: `Coordinates autonomous coding agents around a plan embedded in a
GitHub issue body. Agents claim tasks through the issue's assignee field,
verify their work through an ordered gate pipeline, and report lifecycle
transitions back to the shared issue.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("pmx version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		setupSignalContext()

		loaded, err := config.Load("")
		if err != nil {
			return err
		}
		cfg = loaded

		if cfg.Telemetry {
			if err := telemetry.Init(rootCtx, 30*time.Second); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cfg != nil && cfg.Telemetry {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(ctx)
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

// setupSignalContext creates a context cancelled on SIGINT/SIGTERM so
// long-running operations (watch, gate runs) shut down cleanly.
func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newSubstrate builds the GitHub-backed substrate, instrumented when
// telemetry is on.
func newSubstrate() (substrate.Substrate, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("no substrate token configured (set GITHUB_TOKEN or token in .planmux/config.yaml)")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("owner and repo must be configured in .planmux/config.yaml")
	}
	var sub substrate.Substrate = substrate.NewClient(cfg.Token, cfg.Owner, cfg.Repo)
	return telemetry.WrapSubstrate(sub), nil
}

// requireActor ensures the agent has an identity to claim under.
func requireActor() error {
	if cfg.Actor == "" {
		return fmt.Errorf("no actor configured (set PMX_ACTOR or actor in .planmux/config.yaml)")
	}
	return nil
}

// workspaceRoot finds the directory containing .planmux, falling back to
// the working directory. It scopes the in-process claim guard and the
// peer registry.
func workspaceRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	for d := cwd; ; d = filepath.Dir(d) {
		if info, err := os.Stat(filepath.Join(d, ".planmux")); err == nil && info.IsDir() {
			return d
		}
		if d == filepath.Dir(d) {
			break
		}
	}
	return cwd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
