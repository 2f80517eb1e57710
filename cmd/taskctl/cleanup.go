package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphie-orchestrator/taskctl/internal/config"
	"github.com/alphie-orchestrator/taskctl/internal/git"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/internal/worktree"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned agent and task worktrees",
	Long: `Cleanup sweeps the worktree tree under the state directory and
removes any agent or task worktree whose owner is no longer active:
an agent name that is neither an unpaused agent in the current config
nor the claimant of a claimed task, or a task ID not currently claimed
in the store.

The scheduler does not run this sweep itself; it runs only when this
command is invoked, on demand or from cron.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "List orphans without removing them")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	stateDir, _ := cmd.Flags().GetString("state-dir")
	absStateDir, err := filepath.Abs(stateDir)
	if err != nil {
		return fmt.Errorf("resolve state dir: %w", err)
	}

	cfg, err := config.Load(absStateDir)
	if err != nil {
		return err
	}

	client, err := store.New(store.Config{BaseURL: cfg.Server.URL, Scope: cfg.Scope, APIKey: cfg.Server.APIKey})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claimed, err := client.List(ctx, store.ListParams{Queue: models.QueueClaimed})
	if err != nil {
		return fmt.Errorf("list claimed tasks: %w", err)
	}

	activeOwners := make([]string, 0, len(claimed)+len(cfg.Agents))
	for _, task := range claimed {
		activeOwners = append(activeOwners, task.ID)
		if task.ClaimedBy != "" {
			activeOwners = append(activeOwners, task.ClaimedBy)
		}
	}
	for name, bp := range cfg.Agents {
		if !bp.Paused {
			activeOwners = append(activeOwners, name)
		}
	}

	repoPath, err := filepath.Abs(".")
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	runner := git.NewRunner(repoPath)
	wtMgr, err := worktree.New(absStateDir, cfg.BaseBranch, runner)
	if err != nil {
		return err
	}

	orphans, err := wtMgr.ListOrphans(activeOwners)
	if err != nil {
		return fmt.Errorf("list orphaned worktrees: %w", err)
	}

	if len(orphans) == 0 {
		fmt.Println("No orphaned worktrees found.")
		return nil
	}

	fmt.Printf("Found %d orphaned worktree(s):\n", len(orphans))
	for _, wt := range orphans {
		fmt.Printf("  %s (owner=%s)\n", wt.Path, wt.Owner)
	}

	if cleanupDryRun {
		fmt.Println("\nDry run: nothing removed. Re-run without --dry-run to remove these.")
		return nil
	}

	removed, err := wtMgr.CleanupOrphans(activeOwners)
	if err != nil {
		return fmt.Errorf("cleanup orphaned worktrees: %w", err)
	}
	fmt.Printf("\nRemoved %d orphaned worktree(s).\n", removed)
	return nil
}
