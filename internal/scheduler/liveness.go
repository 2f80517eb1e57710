package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alphie-orchestrator/taskctl/internal/lifecycle"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// AgentState is the on-disk liveness record for one running agent
// instance, written by the scheduler whenever it starts or reaps the
// instance and read back across scheduler restarts.
type AgentState struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid"`
	InstanceID   string    `json:"instance_id,omitempty"`
	LastStarted  time.Time `json:"last_started"`
	LastFinished time.Time `json:"last_finished,omitempty"`
	CurrentTask  string    `json:"current_task,omitempty"`
	ExitCode     int       `json:"exit_code,omitempty"`
}

// agentDir returns <state_dir>/agents/<name>.
func agentDir(stateDir, name string) string {
	return filepath.Join(stateDir, "agents", name)
}

// StatePath returns the liveness state file for a named agent instance.
func StatePath(stateDir, name string) string {
	return filepath.Join(agentDir(stateDir, name), "state.json")
}

// HeartbeatPath returns the heartbeat file for a named agent instance.
// The agent runtime itself is responsible for touching it. The
// scheduler does not read it: zombie detection uses the recorded PID
// and the task's lease instead.
func HeartbeatPath(stateDir, name string) string {
	return filepath.Join(agentDir(stateDir, name), "heartbeat")
}

// writeAgentState persists st for the named instance, creating the
// agent directory if needed.
func writeAgentState(stateDir, name string, st AgentState) error {
	dir := agentDir(stateDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("scheduler: create agent directory for %s: %w", name, err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("scheduler: marshal agent state for %s: %w", name, err)
	}
	return os.WriteFile(StatePath(stateDir, name), data, 0644)
}

// ReadAgentState exposes the persisted liveness state for name, for
// callers like `taskctl status` that report on agent liveness outside
// of a tick.
func ReadAgentState(stateDir, name string) (AgentState, error) {
	return readAgentState(stateDir, name)
}

// readAgentState loads the persisted liveness state for name. A missing
// file reads back as the zero value (never started), not an error.
func readAgentState(stateDir, name string) (AgentState, error) {
	data, err := os.ReadFile(StatePath(stateDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return AgentState{}, nil
		}
		return AgentState{}, fmt.Errorf("scheduler: read agent state for %s: %w", name, err)
	}
	var st AgentState
	if err := json.Unmarshal(data, &st); err != nil {
		return AgentState{}, fmt.Errorf("scheduler: decode agent state for %s: %w", name, err)
	}
	return st, nil
}

// processAlive reports whether pid refers to a running process, probed
// via signal 0 (no-op, existence check only).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// isZombie reports whether a claimed task's lease has expired AND the
// claiming agent's process is no longer alive. A lease that has expired
// while the process is still running is left alone; it will either
// submit before the next sweep or the process will exit and the next
// tick will reclaim it.
func isZombie(stateDir string, task *models.Task, now time.Time) bool {
	if !lifecycle.LeaseExpired(task, now) {
		return false
	}
	if task.ClaimedBy == "" {
		return true
	}
	st, err := readAgentState(stateDir, task.ClaimedBy)
	if err != nil || !st.Running {
		return true
	}
	return !processAlive(st.PID)
}

// reclaimZombies lists claimed tasks and releases every zombie claim
// back to incoming. Returns the count released.
func reclaimZombies(ctx context.Context, client *store.Client, ctrl *lifecycle.Controller, stateDir string, now time.Time) (int, error) {
	claimed, err := client.List(ctx, store.ListParams{Queue: models.QueueClaimed})
	if err != nil {
		return 0, fmt.Errorf("scheduler: list claimed tasks: %w", err)
	}

	released := 0
	for _, task := range claimed {
		if !isZombie(stateDir, task, now) {
			continue
		}
		if _, err := ctrl.ReleaseZombie(ctx, task); err != nil {
			return released, fmt.Errorf("scheduler: release zombie claim %s: %w", task.ID, err)
		}
		released++
	}
	return released, nil
}
