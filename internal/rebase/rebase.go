// Package rebase implements the Rebaser: a background worker that
// rebases stale task branches onto their base branch in a dedicated
// worktree, re-runs tests, and force-pushes with lease, requeuing the
// task on conflict or test failure instead of leaving it silently
// behind the base branch.
package rebase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alphie-orchestrator/taskctl/internal/git"
	"github.com/alphie-orchestrator/taskctl/internal/hooks"
	"github.com/alphie-orchestrator/taskctl/internal/lifecycle"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/internal/worktree"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// DefaultCooldown is how long the rebaser waits between attempts on the
// same task.
const DefaultCooldown = 10 * time.Minute

// Rebaser scans tasks flagged needs_rebase and rebases each one in
// isolation, skipping orchestrator_impl tasks per the v1 constraint.
type Rebaser struct {
	store      *store.Client
	lifecycle  *lifecycle.Controller
	worktrees  *worktree.Manager
	baseBranch string
	cooldown   time.Duration
	newRunner  func(path string) git.Runner
}

// New builds a Rebaser. A zero cooldown falls back to DefaultCooldown.
func New(client *store.Client, ctrl *lifecycle.Controller, worktrees *worktree.Manager, baseBranch string, cooldown time.Duration) *Rebaser {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Rebaser{
		store:      client,
		lifecycle:  ctrl,
		worktrees:  worktrees,
		baseBranch: baseBranch,
		cooldown:   cooldown,
		newRunner:  func(path string) git.Runner { return git.NewRunner(path) },
	}
}

// NewWithRunnerFactory builds a Rebaser using a custom function to
// construct the git runner scoped to the rebaser worktree, for testing.
func NewWithRunnerFactory(client *store.Client, ctrl *lifecycle.Controller, worktrees *worktree.Manager, baseBranch string, cooldown time.Duration, newRunner func(path string) git.Runner) *Rebaser {
	r := New(client, ctrl, worktrees, baseBranch, cooldown)
	r.newRunner = newRunner
	return r
}

// ProcessDue finds every task flagged needs_rebase that is not within
// its cooldown window and attempts a rebase on each. It returns the
// number of tasks it actually attempted (throttled and skipped tasks
// are not counted).
func (r *Rebaser) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	tasks, err := r.store.List(ctx, store.ListParams{})
	if err != nil {
		return 0, fmt.Errorf("rebase: list tasks: %w", err)
	}

	attempted := 0
	for _, task := range tasks {
		if !task.NeedsRebase {
			continue
		}
		if models.Role(task.Role) == models.RoleOrchestratorImpl {
			continue
		}
		if r.throttled(task, now) {
			continue
		}
		if err := r.attempt(ctx, task); err != nil {
			return attempted, fmt.Errorf("rebase: attempt task %s: %w", task.ID, err)
		}
		attempted++
	}
	return attempted, nil
}

func (r *Rebaser) throttled(task *models.Task, now time.Time) bool {
	if task.LastRebaseAttempt == nil {
		return false
	}
	return now.Sub(*task.LastRebaseAttempt) < r.cooldown
}

// attempt runs the six-step rebase flow for a single task: dedicated
// worktree, rebase onto origin/<base>, run tests, force-push with
// lease, clear the flag on success. A rebase conflict or a test failure
// rejects the task with structured feedback; a failed force-push adds a
// note to the task instead. The attempt timestamp is recorded so the
// cooldown throttle engages immediately.
func (r *Rebaser) attempt(ctx context.Context, task *models.Task) error {
	branch := worktree.TaskBranch(task)

	wt, err := r.worktrees.EnsureRebaserWorktree(task.ID, branch)
	if err != nil {
		return fmt.Errorf("ensure rebaser worktree: %w", err)
	}
	defer func() { _ = r.worktrees.CleanupRebaserWorktree(task.ID) }()

	runner := r.newRunner(wt.Path)

	if err := r.recordAttempt(ctx, task); err != nil {
		return err
	}

	if err := runner.Rebase("origin/" + r.baseBranch); err != nil {
		conflicts, _ := runner.ConflictedFiles()
		_ = runner.RebaseAbort()
		reason := fmt.Sprintf("Rebase onto origin/%s conflicted in: %s.", r.baseBranch, strings.Join(conflicts, ", "))
		_, rejectErr := r.lifecycle.Reject(ctx, task, reason, "rebaser")
		return rejectErr
	}

	result := hooks.RunTestsInDir(wt.Path)
	if result.Status == hooks.StatusFailure {
		reason := "Rebase succeeded but tests failed afterward.\n" + result.RemediationPrompt
		_, rejectErr := r.lifecycle.Reject(ctx, task, reason, "rebaser")
		return rejectErr
	}

	if _, err := runner.Run("push", "--force-with-lease", "origin", branch); err != nil {
		_, updateErr := r.store.Update(ctx, task.ID, task.Version, map[string]any{
			"note": "force-push-with-lease failed after rebase: " + err.Error(),
		})
		return updateErr
	}

	_, err = r.store.Update(ctx, task.ID, task.Version, map[string]any{
		"needs_rebase": false,
	})
	return err
}

func (r *Rebaser) recordAttempt(ctx context.Context, task *models.Task) error {
	updated, err := r.store.Update(ctx, task.ID, task.Version, map[string]any{
		"last_rebase_attempt": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record rebase attempt: %w", err)
	}
	task.Version = updated.Version
	return nil
}
