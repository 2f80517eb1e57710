package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphie-orchestrator/taskctl/internal/config"
	"github.com/alphie-orchestrator/taskctl/internal/scheduler"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current queue and agent state",
	Long: `Display the current state of the task lifecycle:

  - Task counts per queue
  - Backpressure headroom against configured limits
  - Configured agent blueprints and their liveness state`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	queues := []models.Queue{
		models.QueueIncoming, models.QueueClaimed, models.QueueProvisional,
		models.QueueDone, models.QueueFailed, models.QueueRejected,
		models.QueueEscalated, models.QueueRecycled, models.QueueBlocked,
	}

	fmt.Printf("Scope: %s\n\n", cfg.Scope)
	fmt.Println("Queue counts:")
	var incoming, claimed, provisional int
	for _, q := range queues {
		tasks, err := client.List(ctx, store.ListParams{Queue: q})
		if err != nil {
			return fmt.Errorf("list %s: %w", q, err)
		}
		fmt.Printf("  %-18s %d\n", q, len(tasks))
		switch q {
		case models.QueueIncoming:
			incoming = len(tasks)
		case models.QueueClaimed:
			claimed = len(tasks)
		case models.QueueProvisional:
			provisional = len(tasks)
		}
	}

	counts := scheduler.Counts{Incoming: incoming, Claimed: claimed, Provisional: provisional}
	canClaim, reason := scheduler.CanClaimTask(counts, cfg.QueueLimits)
	fmt.Println()
	fmt.Printf("Can claim new task: %v", canClaim)
	if !canClaim {
		fmt.Printf(" (%s)", reason)
	}
	fmt.Println()

	if len(cfg.Agents) == 0 {
		fmt.Println("\nNo agent blueprints configured.")
		return nil
	}

	fmt.Println("\nAgent blueprints:")
	for name, bp := range cfg.Agents {
		st, err := scheduler.ReadAgentState(absStateDir, name)
		liveness := "never started"
		if err == nil && st.Running {
			liveness = fmt.Sprintf("running (pid %d)", st.PID)
		} else if err == nil && !st.LastFinished.IsZero() {
			liveness = fmt.Sprintf("exited (code %d)", st.ExitCode)
		}
		paused := ""
		if bp.Paused {
			paused = " [paused]"
		}
		fmt.Printf("  %-16s type=%-14s max_instances=%-3d %s%s\n", name, bp.Type, bp.MaxInstances, liveness, paused)
	}

	return nil
}
