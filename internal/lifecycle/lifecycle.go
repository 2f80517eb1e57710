// Package lifecycle implements the Lifecycle Controller: thin wrappers
// around the Task Store Client that also write task log events and
// perform the filesystem side effects (worktree provisioning/cleanup,
// task file writes) each transition requires.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/alphie-orchestrator/taskctl/internal/feedback"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/internal/tasklog"
	"github.com/alphie-orchestrator/taskctl/internal/taskfile"
	"github.com/alphie-orchestrator/taskctl/internal/worktree"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// MaxRejections is the rotation cap before a task is escalated to a
// human instead of being returned to incoming.
const MaxRejections = 3

// Controller wires the store client to the task log and worktree
// manager so every transition leaves a consistent trail across all
// three.
type Controller struct {
	store     *store.Client
	worktrees *worktree.Manager
	stateDir  string
}

// New builds a Controller.
func New(client *store.Client, worktrees *worktree.Manager, stateDir string) *Controller {
	return &Controller{store: client, worktrees: worktrees, stateDir: stateDir}
}

func (c *Controller) log(taskID string) (*tasklog.Journal, error) {
	return tasklog.Open(c.stateDir, taskID)
}

func (c *Controller) thread() *feedback.Manager {
	return feedback.New(c.stateDir)
}

// Create submits a new task, writes its brief to the task file, and
// records a CREATED event.
func (c *Controller) Create(ctx context.Context, p store.CreateParams) (*models.Task, error) {
	task, err := c.store.Create(ctx, p)
	if err != nil {
		return nil, err
	}

	if task.FilePath != "" {
		brief := taskfile.Brief{Task: *task}
		if err := taskfile.Write(task.FilePath, brief); err != nil {
			return nil, fmt.Errorf("lifecycle: write task file for %s: %w", task.ID, err)
		}
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, err
	}
	_ = j.Append("CREATED", map[string]string{"role": task.Role, "priority": string(task.Priority)})

	return task, nil
}

// Claim picks a claimable task, ensures its worktree exists, loads the
// task file content, and records a CLAIMED event.
func (c *Controller) Claim(ctx context.Context, p store.ClaimParams) (*models.Task, string, error) {
	task, err := c.store.Claim(ctx, p)
	if err != nil || task == nil {
		return task, "", err
	}

	if _, err := c.worktrees.EnsureTaskWorktree(task); err != nil {
		return nil, "", fmt.Errorf("lifecycle: ensure worktree for claimed task %s: %w", task.ID, err)
	}

	var content string
	if task.FilePath != "" {
		brief, err := taskfile.Read(task.FilePath)
		if err == nil {
			content = brief.Render()
		}
	}

	if messages, err := c.thread().Read(task.ID); err == nil {
		content = feedback.RenderConversation(content, messages)
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, "", err
	}
	_ = j.Append("CLAIMED", map[string]string{"by": p.OrchestratorID, "agent": p.AgentName})

	return task, content, nil
}

// Submit moves a task to provisional, auto-rejecting first if the
// pre-existing-rejection gate fires: no commits were made on an attempt
// that was already a retry.
func (c *Controller) Submit(ctx context.Context, task *models.Task, p store.SubmitParams) (*models.Task, error) {
	if p.CommitsCount == 0 && (task.AttemptCount > 0 || task.RejectionCount > 0) {
		return c.Reject(ctx, task, "No commits made.", "lifecycle")
	}

	updated, err := c.store.Submit(ctx, p)
	if err != nil {
		return nil, err
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, err
	}
	_ = j.Append("SUBMITTED", map[string]string{
		"commits": fmt.Sprintf("%d", p.CommitsCount),
		"turns":   fmt.Sprintf("%d", p.TurnsUsed),
	})

	return updated, nil
}

// Accept transitions a task to done, cleans up its worktree (pushing
// first), and records an ACCEPTED event. Callers must have already run
// all before_merge orchestrator hooks successfully; Accept does not
// re-check hook status itself.
func (c *Controller) Accept(ctx context.Context, task *models.Task, acceptedBy string) (*models.Task, error) {
	updated, err := c.store.Accept(ctx, task.ID, task.Version, acceptedBy)
	if err != nil {
		return nil, err
	}

	if err := c.worktrees.CleanupTaskWorktree(task.ID, true); err != nil {
		return nil, fmt.Errorf("lifecycle: cleanup worktree after accept for %s: %w", task.ID, err)
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, err
	}
	_ = j.Append("ACCEPTED", map[string]string{"by": acceptedBy})

	return updated, nil
}

// Reject posts the rejection reason as a thread message (never rewrites
// the task brief), cleans up the worktree with push=true so the rejected
// commits survive on origin for forensic review, and escalates once the
// rejection cap is reached.
func (c *Controller) Reject(ctx context.Context, task *models.Task, reason, rejectedBy string) (*models.Task, error) {
	updated, err := c.store.Reject(ctx, task.ID, task.Version, reason, rejectedBy)
	if err != nil {
		return nil, err
	}

	if err := c.worktrees.CleanupTaskWorktree(task.ID, true); err != nil {
		return nil, fmt.Errorf("lifecycle: cleanup worktree after reject for %s: %w", task.ID, err)
	}

	if err := c.thread().Reject(task.ID, rejectedBy, reason); err != nil {
		return nil, fmt.Errorf("lifecycle: post rejection thread message for %s: %w", task.ID, err)
	}

	escalated := updated.RejectionCount >= MaxRejections
	if escalated {
		updated, err = c.store.Update(ctx, task.ID, updated.Version, map[string]any{
			"queue": models.QueueEscalated,
		})
		if err != nil {
			return nil, err
		}
		escalationMsg := fmt.Sprintf("Task escalated after %d rejections: %s", updated.RejectionCount, reason)
		if err := c.thread().Escalate(task.ID, "orchestrator", escalationMsg); err != nil {
			return nil, fmt.Errorf("lifecycle: post escalation thread message for %s: %w", task.ID, err)
		}
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, err
	}
	_ = j.Append("REJECTED", map[string]string{
		"reason":    reason,
		"by":        rejectedBy,
		"escalated": fmt.Sprintf("%t", escalated),
	})

	return updated, nil
}

// Recycle creates a new breakdown-queue task referencing the burned-out
// task, attaches its context, and marks the original as recycled. The
// caller is responsible for the breakdown-depth cap decision (§ burnout
// package); Recycle only performs the mechanical transition.
func (c *Controller) Recycle(ctx context.Context, task *models.Task, breakdownTask store.CreateParams) (*models.Task, *models.Task, error) {
	created, err := c.store.Create(ctx, breakdownTask)
	if err != nil {
		return nil, nil, err
	}

	updated, err := c.store.Update(ctx, task.ID, task.Version, map[string]any{
		"queue": models.QueueRecycled,
	})
	if err != nil {
		return nil, nil, err
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, nil, err
	}
	_ = j.Append("RECYCLED", map[string]string{"breakdown_task": created.ID})

	return updated, created, nil
}

// Fail cleans up the worktree and records a FAILED event, without
// pushing since a failed task's commits are not considered forensically
// interesting in the way a rejection's are.
func (c *Controller) Fail(ctx context.Context, task *models.Task, reason string) (*models.Task, error) {
	updated, err := c.store.Update(ctx, task.ID, task.Version, map[string]any{
		"queue": models.QueueFailed,
	})
	if err != nil {
		return nil, err
	}

	if err := c.worktrees.CleanupTaskWorktree(task.ID, false); err != nil {
		return nil, fmt.Errorf("lifecycle: cleanup worktree after fail for %s: %w", task.ID, err)
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, err
	}
	_ = j.Append("FAILED", map[string]string{"reason": reason})

	return updated, nil
}

// MarkNeedsContinuation preserves the branch and last agent so the same
// agent resumes the same worktree on its next claim, for tasks that made
// partial progress but ran out of turns.
func (c *Controller) MarkNeedsContinuation(ctx context.Context, task *models.Task, lastAgent, reason string) (*models.Task, error) {
	updated, err := c.store.Update(ctx, task.ID, task.Version, map[string]any{
		"queue":                models.QueueNeedsContinuation,
		"last_agent":           lastAgent,
		"continuation_reason":  reason,
	})
	if err != nil {
		return nil, err
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, err
	}
	_ = j.Append("NEEDS_CONTINUATION", map[string]string{"agent": lastAgent, "reason": reason})

	return updated, nil
}

// LeaseExpired reports whether a claimed task's lease has passed, used
// by the scheduler's zombie-reclaim sweep.
func LeaseExpired(task *models.Task, now time.Time) bool {
	return task.LeaseExpiresAt != nil && now.After(*task.LeaseExpiresAt)
}

// ReleaseZombie forcibly returns a zombie claim to incoming: the
// claiming process is gone and the lease has expired. Clears the claim
// fields and records a REQUEUED event, which pairs with the CLAIMED event
// the claim already wrote, so the task log shows why the claim didn't
// survive to a submit.
func (c *Controller) ReleaseZombie(ctx context.Context, task *models.Task) (*models.Task, error) {
	updated, err := c.store.Update(ctx, task.ID, task.Version, map[string]any{
		"queue":            models.QueueIncoming,
		"claimed_by":       "",
		"orchestrator_id":  "",
		"claimed_at":       nil,
		"lease_expires_at": nil,
	})
	if err != nil {
		return nil, err
	}

	j, err := c.log(task.ID)
	if err != nil {
		return nil, err
	}
	_ = j.Append("REQUEUED", map[string]string{
		"from_queue": string(models.QueueClaimed),
		"to_queue":   string(models.QueueIncoming),
		"reason":     "zombie claim: lease expired and claiming process is gone",
	})

	return updated, nil
}
