package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alphie-orchestrator/taskctl/internal/config"
	"github.com/alphie-orchestrator/taskctl/internal/scheduler"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"shell", "repl"},
	Short:   "Open an interactive shell against the task store",
	Long: `Interactive opens a REPL for inspecting and nudging the task
lifecycle without waiting on the scheduler's tick interval: list
queues, inspect a task, or force a pause/resume.

Type "help" inside the shell for the command list, or "exit" to quit.`,
	RunE: runInteractive,
}

type interactiveSession struct {
	cfg         *config.Config
	client      *store.Client
	absStateDir string
}

func runInteractive(cmd *cobra.Command, args []string) error {
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

	sess := &interactiveSession{cfg: cfg, client: client, absStateDir: absStateDir}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.CyanString("taskctl> "),
		HistoryFile:     filepath.Join(absStateDir, ".interactive_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("start readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("taskctl interactive shell — scope %q. Type \"help\" for commands.\n", cfg.Scope)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			printInteractiveHelp()
		case "queues":
			sess.cmdQueues()
		case "show":
			if len(fields) < 2 {
				fmt.Println("usage: show <task-id>")
				continue
			}
			sess.cmdShow(fields[1])
		case "agents":
			sess.cmdAgents()
		case "pause":
			sess.cmdPause(true)
		case "resume":
			sess.cmdPause(false)
		default:
			fmt.Printf("unknown command %q; type \"help\" for the command list\n", fields[0])
		}
	}
}

func printInteractiveHelp() {
	fmt.Println(`commands:
  queues              show per-queue task counts
  show <task-id>      show a single task's full state
  agents              show configured agent blueprints and liveness
  pause               write the pause sentinel (scheduler stops claiming)
  resume              remove the pause sentinel
  exit                leave the shell`)
}

func (s *interactiveSession) cmdQueues() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queues := []models.Queue{
		models.QueueIncoming, models.QueueClaimed, models.QueueProvisional,
		models.QueueDone, models.QueueFailed, models.QueueRejected,
		models.QueueEscalated, models.QueueRecycled, models.QueueBlocked,
	}
	for _, q := range queues {
		tasks, err := s.client.List(ctx, store.ListParams{Queue: q})
		if err != nil {
			fmt.Printf("  %-14s error: %v\n", q, err)
			continue
		}
		fmt.Printf("  %-14s %d\n", q, len(tasks))
	}
}

func (s *interactiveSession) cmdShow(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	task, err := s.client.Get(ctx, taskID)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("id:           %s\n", task.ID)
	fmt.Printf("title:        %s\n", task.Title)
	fmt.Printf("queue:        %s\n", task.Queue)
	fmt.Printf("role:         %s\n", task.Role)
	fmt.Printf("version:      %d\n", task.Version)
	fmt.Printf("claimed_by:   %s\n", task.ClaimedBy)
	fmt.Printf("rejections:   %d\n", task.RejectionCount)
	fmt.Printf("branch:       %s\n", task.Branch)
}

func (s *interactiveSession) cmdAgents() {
	if len(s.cfg.Agents) == 0 {
		fmt.Println("no agent blueprints configured")
		return
	}
	for name, bp := range s.cfg.Agents {
		st, err := scheduler.ReadAgentState(s.absStateDir, name)
		liveness := "never started"
		if err == nil && st.Running {
			liveness = fmt.Sprintf("running (pid %d)", st.PID)
		}
		fmt.Printf("  %-16s type=%-14s %s\n", name, bp.Type, liveness)
	}
}

func (s *interactiveSession) cmdPause(pause bool) {
	path := scheduler.PausePath(s.absStateDir)
	if pause {
		if err := os.WriteFile(path, nil, 0644); err != nil {
			fmt.Printf("error writing pause sentinel: %v\n", err)
			return
		}
		fmt.Println("paused: scheduler will skip claiming new work on its next tick")
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Printf("error removing pause sentinel: %v\n", err)
		return
	}
	fmt.Println("resumed")
}
