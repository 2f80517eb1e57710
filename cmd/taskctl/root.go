package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckAgentCLI verifies that the configured agent runtime binary is
// available in PATH. taskctl never hardcodes which one: it reads the
// binary name from the commands allowlist, so this just confirms
// whatever name was configured actually resolves.
func CheckAgentCLI(bin string) error {
	if bin == "" {
		return fmt.Errorf("no agent runtime binary configured; set commands.<type> in config.yaml")
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("agent runtime binary %q not found in PATH", bin)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "Task lifecycle engine for autonomous coding agents",
	Long: `taskctl drives the queued task lifecycle an autonomous coding agent
fleet runs against: submission, claim, execution, review, and merge.

Core responsibilities:
- Enforces the task state machine (incoming -> claimed -> provisional -> done/...)
- Leases claims with expiry and reclaims zombie claims
- Gates claim/create with backpressure against configured queue limits
- Runs declarative hooks at before_submit and before_merge
- Manages per-task and per-agent git worktrees
- Detects burnout and recycles stuck tasks into breakdowns
- Rebases stale branches and re-runs their tests, rejecting on failure

Available commands:
  run        Run the scheduler tick loop
  status     Show current queue and agent state
  init       Initialize taskctl in a project
  cleanup    Remove orphaned worktrees
  version    Show version information

Use "taskctl [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version()
	rootCmd.PersistentFlags().String("state-dir", ".taskctl", "Directory holding worktrees, logs, cache, and config overrides")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(interactiveCmd)
}
