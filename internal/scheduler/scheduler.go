// Package scheduler implements the tick loop: on every tick it reads
// the pause flag, snapshots queue counts, launches or reaps
// scheduler-managed agent processes within backpressure limits, sweeps
// zombie claims, drives provisional tasks through their before_merge
// orchestrator hooks, and runs the background jobs (burnout, rebase)
// that are due.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alphie-orchestrator/taskctl/internal/burnout"
	"github.com/alphie-orchestrator/taskctl/internal/config"
	"github.com/alphie-orchestrator/taskctl/internal/eventlog"
	"github.com/alphie-orchestrator/taskctl/internal/git"
	"github.com/alphie-orchestrator/taskctl/internal/hooks"
	"github.com/alphie-orchestrator/taskctl/internal/lifecycle"
	"github.com/alphie-orchestrator/taskctl/internal/merge"
	"github.com/alphie-orchestrator/taskctl/internal/portalloc"
	"github.com/alphie-orchestrator/taskctl/internal/rebase"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/internal/worktree"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// instance tracks one running agent process.
type instance struct {
	blueprint string
	cmd       *exec.Cmd
	startedAt time.Time
	taskID    string
}

// TickResult summarizes what a single tick did, for logging and
// metrics.
type TickResult struct {
	Paused         bool
	Counts         Counts
	Spawned        []string
	ZombiesReaped  int
	Accepted       []string
	BurnoutActed   int
	RebaseAttempts int
}

// Scheduler drives one tick of the lifecycle engine.
type Scheduler struct {
	cfg       *config.Config
	store     *store.Client
	ctrl      *lifecycle.Controller
	worktrees *worktree.Manager
	cache     *store.Cache
	burnoutD  *burnout.Detector
	rebaser   *rebase.Rebaser
	stateDir  string

	instances map[string]*instance // keyed by "<blueprint>#<index>"
	lastSpawn map[string]time.Time // keyed by blueprint name

	// newCmd builds the *exec.Cmd for an agent instance launch; overridable
	// in tests so Tick never actually execs a binary.
	newCmd func(name string, args []string, env []string) *exec.Cmd

	// events is optional; a nil events means nobody is watching the run
	// and Tick simply skips emitting.
	events *eventlog.Emitter
}

// New builds a Scheduler wiring together every component its tick needs.
func New(cfg *config.Config, client *store.Client, ctrl *lifecycle.Controller, worktrees *worktree.Manager, cache *store.Cache, stateDir string) *Scheduler {
	burnoutD := burnout.New(client, ctrl, cfg.BurnoutTurnsThreshold, cfg.MaxBreakdownDepth)
	rebaser := rebase.New(client, ctrl, worktrees, cfg.BaseBranch, cfg.RebaseCooldown)

	return &Scheduler{
		cfg: cfg, store: client, ctrl: ctrl, worktrees: worktrees, cache: cache,
		burnoutD: burnoutD, rebaser: rebaser, stateDir: stateDir,
		instances: make(map[string]*instance),
		lastSpawn: make(map[string]time.Time),
		newCmd:    defaultNewCmd,
	}
}

// SetEventEmitter attaches an eventlog.Emitter that Tick reports agent
// spawn/exit, zombie-reclaim, and accept activity to. Optional: a
// Scheduler with no emitter attached runs identically, just silently.
func (s *Scheduler) SetEventEmitter(e *eventlog.Emitter) {
	s.events = e
}

func (s *Scheduler) emit(evt eventlog.Event) {
	if s.events == nil {
		return
	}
	s.events.Emit(evt)
}

func defaultNewCmd(name string, args []string, env []string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	return cmd
}

// Tick runs one full scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	result := TickResult{}

	if IsPaused(s.stateDir) {
		result.Paused = true
		return result, nil
	}

	counts, err := computeCounts(ctx, s.store, s.cache)
	if err != nil {
		return result, err
	}
	result.Counts = counts

	s.reapFinishedInstances()

	spawned, err := s.spawnBlueprints(counts)
	if err != nil {
		return result, err
	}
	result.Spawned = spawned

	zombies, err := reclaimZombies(ctx, s.store, s.ctrl, s.stateDir, time.Now())
	if err != nil {
		return result, err
	}
	result.ZombiesReaped = zombies
	for i := 0; i < zombies; i++ {
		s.emit(eventlog.Event{Type: eventlog.EventZombieReclaimed, Timestamp: time.Now()})
	}

	accepted, err := s.runProvisionalGate(ctx)
	if err != nil {
		return result, err
	}
	result.Accepted = accepted
	for _, taskID := range accepted {
		s.emit(eventlog.Event{Type: eventlog.EventTaskAccepted, TaskID: taskID, Timestamp: time.Now()})
	}

	acted, err := s.burnoutD.ProcessProvisional(ctx)
	if err != nil {
		return result, err
	}
	result.BurnoutActed = acted

	if _, err := s.burnoutD.ReconcileBlockers(ctx); err != nil {
		return result, err
	}

	attempted, err := s.rebaser.ProcessDue(ctx, time.Now())
	if err != nil {
		return result, err
	}
	result.RebaseAttempts = attempted

	return result, nil
}

// spawnBlueprints launches new agent instances for every blueprint that
// is under its max_instances, past its spawn interval, and not blocked
// by backpressure.
func (s *Scheduler) spawnBlueprints(counts Counts) ([]string, error) {
	names := make([]string, 0, len(s.cfg.Agents))
	for name := range s.cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	var spawned []string
	for _, name := range names {
		bp := s.cfg.Agents[name]
		if bp.Paused {
			continue
		}

		running := s.runningCount(name)
		if bp.MaxInstances > 0 && running >= bp.MaxInstances {
			continue
		}

		if last, ok := s.lastSpawn[name]; ok && bp.IntervalSeconds > 0 {
			if time.Since(last) < time.Duration(bp.IntervalSeconds)*time.Second {
				continue
			}
		}

		if ok, _ := CanClaimTask(counts, s.cfg.QueueLimits); !ok {
			continue
		}

		if _, err := s.worktrees.EnsureAgentWorktree(name); err != nil {
			return spawned, fmt.Errorf("scheduler: ensure worktree for agent %s: %w", name, err)
		}

		if err := s.launch(name, bp, running); err != nil {
			return spawned, fmt.Errorf("scheduler: launch agent %s: %w", name, err)
		}
		s.lastSpawn[name] = time.Now()
		spawned = append(spawned, name)
	}
	return spawned, nil
}

// launch starts one new instance of the named blueprint at the given
// index (its ordinal among already-running instances, used for port
// allocation) and records its liveness state.
func (s *Scheduler) launch(name string, bp config.AgentBlueprint, index int) error {
	ports := portalloc.For(index, portalloc.DefaultBasePort, portalloc.DefaultStride)
	worktreePath := s.worktrees.AgentWorktreePath(name)

	bin, args, err := s.commandFor(bp)
	if err != nil {
		return err
	}

	instanceID := uuid.NewString()

	env := append(os.Environ(),
		"TASKCTL_AGENT_NAME="+name,
		"TASKCTL_AGENT_ROLE="+bp.Role,
		"TASKCTL_WORKTREE_PATH="+worktreePath,
		"TASKCTL_ORCHESTRATOR_ID="+s.cfg.Scope,
		"TASKCTL_INSTANCE_ID="+instanceID,
		fmt.Sprintf("TASKCTL_PORT_DEV=%d", ports.Dev),
		fmt.Sprintf("TASKCTL_PORT_MCP=%d", ports.MCP),
		fmt.Sprintf("TASKCTL_PORT_PLAYWRIGHT=%d", ports.Playwright),
		"TASKCTL_STATE_DIR="+s.stateDir,
	)

	cmd := s.newCmd(bin, args, env)
	cmd.Dir = worktreePath
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent process: %w", err)
	}

	key := instanceKey(name, index)
	s.instances[key] = &instance{blueprint: name, cmd: cmd, startedAt: time.Now()}

	pid := cmd.Process.Pid
	state := AgentState{Running: true, PID: pid, InstanceID: instanceID, LastStarted: time.Now()}
	if err := writeAgentState(s.stateDir, name, state); err != nil {
		return err
	}
	s.emit(eventlog.Event{Type: eventlog.EventAgentSpawned, AgentName: name, Timestamp: time.Now()})

	go func(key string, c *exec.Cmd) {
		_ = c.Wait()
	}(key, cmd)

	return nil
}

// commandFor resolves the executable and base arguments for a
// blueprint's type from the configured command allowlist. A type with
// no matching allowlist entry is a configuration error: the agent
// runtime is a black box this module never guesses the path to.
func (s *Scheduler) commandFor(bp config.AgentBlueprint) (string, []string, error) {
	argv, ok := s.cfg.Commands[bp.Type]
	if !ok || len(argv) == 0 {
		return "", nil, fmt.Errorf("no command allowlist entry for agent type %q", bp.Type)
	}
	return argv[0], argv[1:], nil
}

func instanceKey(name string, index int) string {
	return fmt.Sprintf("%s#%d", name, index)
}

// runningCount reports how many instances of a blueprint are currently
// tracked as running.
func (s *Scheduler) runningCount(name string) int {
	n := 0
	for _, inst := range s.instances {
		if inst.blueprint == name {
			n++
		}
	}
	return n
}

// reapFinishedInstances drops instances whose process has exited and
// persists their final liveness state.
func (s *Scheduler) reapFinishedInstances() {
	for key, inst := range s.instances {
		if inst.cmd.ProcessState == nil {
			continue
		}
		exitCode := inst.cmd.ProcessState.ExitCode()
		_ = writeAgentState(s.stateDir, inst.blueprint, AgentState{
			Running: false, LastFinished: time.Now(), ExitCode: exitCode,
		})
		s.emit(eventlog.Event{Type: eventlog.EventAgentExited, AgentName: inst.blueprint, ExitCode: exitCode, Timestamp: time.Now()})
		delete(s.instances, key)
	}
}

// AnyAgentRunning reports whether at least one agent instance is
// currently tracked as running, the input to the "no_agents_running"
// background-job condition.
func (s *Scheduler) AnyAgentRunning() bool {
	return len(s.instances) > 0
}

// runProvisionalGate runs any still-pending before_merge orchestrator
// hooks for every provisional task and accepts the ones that now pass
// in full. Tasks with a failing hook are left for human attention.
func (s *Scheduler) runProvisionalGate(ctx context.Context) ([]string, error) {
	tasks, err := s.store.List(ctx, store.ListParams{Queue: models.QueueProvisional})
	if err != nil {
		return nil, fmt.Errorf("scheduler: list provisional tasks: %w", err)
	}

	var accepted []string
	for _, task := range tasks {
		if !task.HooksPending(models.HookPointBeforeMerge, models.HookTypeOrchestrator) {
			continue
		}

		hc := s.mergeHookContext(task)
		results := hooks.RunHooks(ctx, task, models.HookPointBeforeMerge, hc)
		if !hooks.AllPassed(results) {
			continue
		}

		if _, err := s.ctrl.Accept(ctx, task, "scheduler"); err != nil {
			return accepted, fmt.Errorf("scheduler: accept task %s: %w", task.ID, err)
		}
		accepted = append(accepted, task.ID)
	}
	return accepted, nil
}

// mergeHookContext builds the hook Context an orchestrator-typed
// before_merge hook needs, rooted at the task's worktree.
func (s *Scheduler) mergeHookContext(task *models.Task) *hooks.Context {
	branch := worktree.TaskBranch(task)
	path := s.worktrees.TaskWorktreePath(task.ID)
	runner := git.NewRunner(path)

	return &hooks.Context{
		TaskID:          task.ID,
		TaskTitle:       task.Title,
		BranchName:      branch,
		BaseBranch:      s.cfg.BaseBranch,
		WorktreePath:    path,
		Git:             runner,
		MergeHandler:    merge.NewHandlerWithRunner(s.cfg.BaseBranch, path, runner),
		PRNumberForTask: task.PRNumber,
		MergeMethod:     task.MergeMethod,
	}
}
