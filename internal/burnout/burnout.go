// Package burnout implements burnout detection and recycling: tasks
// that burn through turns without producing a commit are decomposed
// into a breakdown task (bounded by a depth cap) or, at the cap,
// accepted with a note asking for human review. It also reconciles
// stale blockers across the incoming backlog.
package burnout

import (
	"context"
	"fmt"
	"time"

	"github.com/alphie-orchestrator/taskctl/internal/lifecycle"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// DefaultTurnsThreshold is the default turns_used value at or above
// which a zero-commit task is considered burned out.
const DefaultTurnsThreshold = 60

// DefaultMaxBreakdownDepth bounds how many times a task may be
// recursively decomposed before it is instead accepted with a note.
const DefaultMaxBreakdownDepth = 3

// Detector polls provisional tasks for burnout and reconciles blockers.
type Detector struct {
	store          *store.Client
	lifecycle      *lifecycle.Controller
	turnsThreshold int
	maxDepth       int
}

// New builds a Detector. Zero thresholds fall back to the package
// defaults.
func New(client *store.Client, ctrl *lifecycle.Controller, turnsThreshold, maxDepth int) *Detector {
	if turnsThreshold <= 0 {
		turnsThreshold = DefaultTurnsThreshold
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxBreakdownDepth
	}
	return &Detector{store: client, lifecycle: ctrl, turnsThreshold: turnsThreshold, maxDepth: maxDepth}
}

// IsBurnedOut reports whether a task meets the burnout condition:
// zero commits despite having used at least the turn threshold.
func (d *Detector) IsBurnedOut(task *models.Task) bool {
	return task.CommitsCount == 0 && task.TurnsUsed >= d.turnsThreshold
}

// ProcessProvisional scans every provisional task and recycles or
// accepts the burned-out ones. It returns the number of tasks acted on.
func (d *Detector) ProcessProvisional(ctx context.Context) (int, error) {
	tasks, err := d.store.List(ctx, store.ListParams{Queue: models.QueueProvisional})
	if err != nil {
		return 0, fmt.Errorf("burnout: list provisional tasks: %w", err)
	}

	acted := 0
	for _, task := range tasks {
		if !d.IsBurnedOut(task) {
			continue
		}
		if err := d.handleBurnedOut(ctx, task); err != nil {
			return acted, fmt.Errorf("burnout: handle task %s: %w", task.ID, err)
		}
		acted++
	}
	return acted, nil
}

func (d *Detector) handleBurnedOut(ctx context.Context, task *models.Task) error {
	if task.BreakdownDepth < d.maxDepth {
		return d.recycle(ctx, task)
	}
	return d.acceptAtDepthCap(ctx, task)
}

func (d *Detector) recycle(ctx context.Context, task *models.Task) error {
	breakdownParams := store.CreateParams{
		Title:       fmt.Sprintf("Decompose burned-out task: %s", task.Title),
		Role:        string(models.RoleBreakdown),
		Priority:    task.Priority,
		Queue:       models.QueueBreakdown,
		ProjectID:   task.ProjectID,
		BlockedBy:   nil,
		Metadata: map[string]string{
			"burned_out_task_id": task.ID,
			"burned_out_branch":  task.Branch,
			"breakdown_depth":    fmt.Sprintf("%d", task.BreakdownDepth+1),
		},
	}

	_, _, err := d.lifecycle.Recycle(ctx, task, breakdownParams)
	return err
}

func (d *Detector) acceptAtDepthCap(ctx context.Context, task *models.Task) error {
	_, err := d.store.Update(ctx, task.ID, task.Version, map[string]any{
		"queue": models.QueueDone,
		"note":  "depth cap reached; human review requested",
	})
	return err
}

// ReconcileBlockers clears blocker IDs that now resolve to a terminal
// accepting queue, and clears BlockedBy entirely once the resulting list
// is empty so the task becomes claimable again.
func (d *Detector) ReconcileBlockers(ctx context.Context) (int, error) {
	tasks, err := d.store.List(ctx, store.ListParams{})
	if err != nil {
		return 0, fmt.Errorf("burnout: list tasks for blocker reconciliation: %w", err)
	}

	reconciled := 0
	for _, task := range tasks {
		if len(task.BlockedBy) == 0 {
			continue
		}

		var stillBlocked []string
		for _, blockerID := range task.BlockedBy {
			blocker, err := d.store.Get(ctx, blockerID)
			if err != nil {
				stillBlocked = append(stillBlocked, blockerID)
				continue
			}
			if !blocker.Queue.Accepting() {
				stillBlocked = append(stillBlocked, blockerID)
			}
		}

		if len(stillBlocked) == len(task.BlockedBy) {
			continue
		}

		_, err := d.store.Update(ctx, task.ID, task.Version, map[string]any{
			"blocked_by": stillBlocked,
		})
		if err != nil {
			return reconciled, fmt.Errorf("burnout: reconcile blockers for %s: %w", task.ID, err)
		}
		reconciled++
	}
	return reconciled, nil
}

// StaleBlockerCheckInterval is how frequently the scheduler should run
// ReconcileBlockers as a background job.
const StaleBlockerCheckInterval = time.Minute
