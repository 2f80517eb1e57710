// Package worktree manages the two classes of ephemeral git worktrees the
// orchestrator uses to isolate running work: long-lived agent worktrees
// and per-task worktrees keyed by the task's target branch.
package worktree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alphie-orchestrator/taskctl/internal/git"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// Worktree describes one managed git worktree.
type Worktree struct {
	Path       string
	BranchName string
	Owner      string // agent name or task ID
	CreatedAt  time.Time
}

// Manager creates, refreshes, and tears down agent and task worktrees
// under a single orchestrator state directory.
type Manager struct {
	stateDir   string
	baseBranch string
	git        git.Runner

	mu sync.Mutex
}

// New creates a Manager rooted at stateDir, using runner for every git
// operation. baseBranch is the repository's default integration branch
// (e.g. "main").
func New(stateDir, baseBranch string, runner git.Runner) (*Manager, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("worktree: create state directory: %w", err)
	}
	return &Manager{stateDir: stateDir, baseBranch: baseBranch, git: runner}, nil
}

// AgentWorktreePath returns the deterministic path for a named agent's
// long-lived worktree.
func (m *Manager) AgentWorktreePath(agentName string) string {
	return filepath.Join(m.stateDir, "agents", agentName, "worktree")
}

// TaskWorktreePath returns the deterministic path for a task's worktree.
func (m *Manager) TaskWorktreePath(taskID string) string {
	return filepath.Join(m.stateDir, "tasks", taskID, "worktree")
}

// TaskBranch computes the branch a task worktree should be checked out
// onto, following the precedence: an explicit task.Branch always wins,
// then role == orchestrator_impl, then a breakdown, then the default
// agent/<task_id> form.
func TaskBranch(task *models.Task) string {
	if task.Branch != "" {
		return task.Branch
	}
	if models.Role(task.Role) == models.RoleOrchestratorImpl {
		return "orch/" + task.ID
	}
	if task.BreakdownID != "" {
		return "breakdown/" + task.BreakdownID
	}
	return "agent/" + task.ID
}

// EnsureAgentWorktree creates the agent's worktree if absent, or
// refreshes it in place: fetch origin, then re-detach HEAD at
// origin/<base_branch>. Agent worktrees are always detached.
func (m *Manager) EnsureAgentWorktree(agentName string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.AgentWorktreePath(agentName)
	origin := "origin/" + m.baseBranch

	if _, err := os.Stat(path); err == nil {
		if _, err := m.git.Run("fetch", "origin", m.baseBranch); err != nil {
			return nil, fmt.Errorf("worktree: fetch origin for agent %s: %w", agentName, err)
		}
		if _, err := m.git.Run("-C", path, "checkout", "--detach", origin); err != nil {
			return nil, fmt.Errorf("worktree: re-detach agent %s worktree: %w", agentName, err)
		}
		return &Worktree{Path: path, Owner: agentName, CreatedAt: time.Now()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("worktree: create agent worktree parent dir: %w", err)
	}
	if _, err := m.git.Run("fetch", "origin", m.baseBranch); err != nil {
		return nil, fmt.Errorf("worktree: fetch origin for new agent %s: %w", agentName, err)
	}
	if _, err := m.git.Run("worktree", "add", "--detach", path, origin); err != nil {
		return nil, fmt.Errorf("worktree: create agent %s worktree: %w", agentName, err)
	}

	return &Worktree{Path: path, Owner: agentName, CreatedAt: time.Now()}, nil
}

// EnsureTaskWorktree creates or reuses the worktree for task, enforcing
// the branch-mismatch (ancestor) invariant: if an existing worktree's
// HEAD is not a descendant of origin/<branch>, it is removed and
// recreated from scratch.
func (m *Manager) EnsureTaskWorktree(task *models.Task) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	branch := TaskBranch(task)
	path := m.TaskWorktreePath(task.ID)

	if _, err := os.Stat(path); err == nil {
		ok, err := m.ancestorMatches(path, branch)
		if err != nil {
			return nil, fmt.Errorf("worktree: ancestor check for task %s: %w", task.ID, err)
		}
		if ok {
			return &Worktree{Path: path, BranchName: branch, Owner: task.ID, CreatedAt: time.Now()}, nil
		}
		if err := m.removeWorktree(path); err != nil {
			return nil, fmt.Errorf("worktree: remove stale task %s worktree: %w", task.ID, err)
		}
	}

	return m.createTaskWorktree(task.ID, branch, path)
}

// ancestorMatches implements the CRITICAL branch-mismatch check: it
// returns true when origin/<branch> does not exist (treated as a match,
// since there is nothing to contradict the current HEAD) or when
// origin/<branch> is an ancestor of the worktree's HEAD.
func (m *Manager) ancestorMatches(path, branch string) (bool, error) {
	originRef := "origin/" + branch

	if _, err := m.git.Run("rev-parse", "--verify", "--quiet", originRef); err != nil {
		// No origin ref for this branch yet: nothing to mismatch against.
		return true, nil
	}

	_, err := m.git.Run("-C", path, "merge-base", "--is-ancestor", originRef, "HEAD")
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Manager) createTaskWorktree(taskID, branch, path string) (*Worktree, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("worktree: create task worktree parent dir: %w", err)
	}
	if _, err := m.git.Run("fetch", "origin", branch); err != nil {
		// Branch may not exist on origin yet; that's fine for a fresh task,
		// we'll base the worktree on the configured base branch instead.
		_ = err
	}

	base := "origin/" + m.baseBranch
	if _, err := m.git.Run("rev-parse", "--verify", "--quiet", "origin/"+branch); err == nil {
		base = "origin/" + branch
	}

	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return nil, fmt.Errorf("worktree: check branch %s: %w", branch, err)
	}

	if exists {
		if _, err := m.git.Run("worktree", "add", path, branch); err != nil {
			return nil, fmt.Errorf("worktree: add task %s worktree on existing branch: %w", taskID, err)
		}
	} else {
		if _, err := m.git.Run("worktree", "add", "-b", branch, path, base); err != nil {
			return nil, fmt.Errorf("worktree: add task %s worktree with new branch: %w", taskID, err)
		}
	}

	return &Worktree{Path: path, BranchName: branch, Owner: taskID, CreatedAt: time.Now()}, nil
}

// CleanupTaskWorktree implements cleanup_task_worktree: it detaches HEAD
// and preserves the worktree directory for post-mortem inspection. If
// pushCommits is true and the worktree is on a named branch, it pushes
// to origin first. It never force-pushes.
func (m *Manager) CleanupTaskWorktree(taskID string, pushCommits bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.TaskWorktreePath(taskID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("worktree: stat task %s worktree: %w", taskID, err)
	}

	branch, err := m.git.Run("-C", path, "symbolic-ref", "--short", "-q", "HEAD")
	branch = strings.TrimSpace(branch)
	onNamedBranch := err == nil && branch != ""

	if pushCommits && onNamedBranch {
		if _, err := m.git.Run("-C", path, "push", "origin", branch); err != nil {
			return fmt.Errorf("worktree: push task %s branch %s: %w", taskID, branch, err)
		}
	}

	if _, err := m.git.Run("-C", path, "checkout", "--detach", "HEAD"); err != nil {
		return fmt.Errorf("worktree: detach task %s worktree: %w", taskID, err)
	}

	return nil
}

func (m *Manager) removeWorktree(path string) error {
	_ = m.git.WorktreeUnlock(path)
	if err := m.git.WorktreeRemove(path); err != nil {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

// CheckSubmoduleIsolation detects when a worktree contains a nested
// repository whose .git points back into the parent checkout's object
// store, which would cross-contaminate commits between them. It returns
// a human-readable warning string, empty if no issue is found.
func CheckSubmoduleIsolation(worktreePath, mainRepoPath string) (string, error) {
	var warnings []string

	err := filepath.WalkDir(worktreePath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == worktreePath {
			return nil
		}
		if d.Name() != ".git" {
			return nil
		}

		info, statErr := os.Stat(p)
		if statErr == nil && info.IsDir() {
			return filepath.SkipDir
		}

		target, readErr := readGitFilePointer(p)
		if readErr == nil && strings.Contains(target, mainRepoPath) {
			warnings = append(warnings, fmt.Sprintf("nested repository at %s points into the main checkout's object store (%s)", p, target))
		}
		return filepath.SkipDir
	})
	if err != nil {
		return "", fmt.Errorf("worktree: check submodule isolation: %w", err)
	}

	return strings.Join(warnings, "; "), nil
}

func readGitFilePointer(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "gitdir:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "gitdir:")), nil
		}
	}
	return "", scanner.Err()
}

// ListOrphans returns task and agent worktrees present on disk that are
// not among the given active owners (task IDs or agent names currently
// in use). Only `taskctl cleanup` runs this sweep; the scheduler does not.
func (m *Manager) ListOrphans(activeOwners []string) ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[string]bool, len(activeOwners))
	for _, id := range activeOwners {
		active[id] = true
	}

	var orphans []*Worktree
	for _, kind := range []string{"agents", "tasks"} {
		root := filepath.Join(m.stateDir, kind)
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("worktree: read %s directory: %w", kind, err)
		}
		for _, e := range entries {
			if !e.IsDir() || active[e.Name()] {
				continue
			}
			path := filepath.Join(root, e.Name(), "worktree")
			if _, err := os.Stat(path); err != nil {
				continue
			}
			orphans = append(orphans, &Worktree{Path: path, Owner: e.Name()})
		}
	}
	return orphans, nil
}

// CleanupOrphans removes every worktree returned by ListOrphans and
// returns the count removed.
func (m *Manager) CleanupOrphans(activeOwners []string) (int, error) {
	orphans, err := m.ListOrphans(activeOwners)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, wt := range orphans {
		if err := m.removeWorktree(wt.Path); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// RebaserWorktreePath returns the deterministic path for the dedicated,
// ephemeral worktree the rebaser checks a task's branch out into. It is
// distinct from both the agent and task worktree trees so a rebase
// attempt never disturbs work an agent or reviewer has in progress.
func (m *Manager) RebaserWorktreePath(taskID string) string {
	return filepath.Join(m.stateDir, "rebase", taskID, "worktree")
}

// EnsureRebaserWorktree creates a fresh rebaser worktree checked out to
// branch from origin, removing any leftover worktree from a prior
// attempt first. Each rebase attempt starts clean.
func (m *Manager) EnsureRebaserWorktree(taskID, branch string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.RebaserWorktreePath(taskID)
	if _, err := os.Stat(path); err == nil {
		if err := m.removeWorktree(path); err != nil {
			return nil, fmt.Errorf("worktree: remove stale rebaser worktree for %s: %w", taskID, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("worktree: create rebaser worktree parent dir: %w", err)
	}
	if _, err := m.git.Run("fetch", "origin", branch); err != nil {
		return nil, fmt.Errorf("worktree: fetch origin branch %s for rebaser: %w", branch, err)
	}
	if _, err := m.git.Run("worktree", "add", path, "origin/"+branch); err != nil {
		return nil, fmt.Errorf("worktree: add rebaser worktree for %s: %w", taskID, err)
	}

	return &Worktree{Path: path, BranchName: branch, Owner: taskID, CreatedAt: time.Now()}, nil
}

// CleanupRebaserWorktree removes the rebaser worktree for taskID
// unconditionally, whether the attempt succeeded or failed.
func (m *Manager) CleanupRebaserWorktree(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.RebaserWorktreePath(taskID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("worktree: stat rebaser worktree for %s: %w", taskID, err)
	}
	return m.removeWorktree(path)
}
