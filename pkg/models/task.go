// Package models defines the core data types shared across taskctl:
// tasks, queues, projects, hooks, and the thread/log records attached
// to a task's lifecycle.
package models

import "time"

// Queue is the current lifecycle state of a task.
type Queue string

const (
	// QueueIncoming indicates the task has not been claimed yet.
	QueueIncoming Queue = "incoming"
	// QueueClaimed indicates an agent holds the lease for this task.
	QueueClaimed Queue = "claimed"
	// QueueProvisional indicates the agent submitted work pending validation.
	QueueProvisional Queue = "provisional"
	// QueueDone indicates the task was accepted.
	QueueDone Queue = "done"
	// QueueFailed indicates the task failed without recoverable partial work.
	QueueFailed Queue = "failed"
	// QueueRejected indicates the task was rejected by review.
	QueueRejected Queue = "rejected"
	// QueueEscalated indicates the task exceeded the rejection or breakdown cap.
	QueueEscalated Queue = "escalated"
	// QueueRecycled indicates a burned-out task was replaced by a breakdown.
	QueueRecycled Queue = "recycled"
	// QueueBreakdown indicates the task is a decomposition child awaiting claim.
	QueueBreakdown Queue = "breakdown"
	// QueueNeedsContinuation indicates partial work exists and the same agent should resume.
	QueueNeedsContinuation Queue = "needs_continuation"
	// QueueBlocked indicates the task cannot be claimed due to unresolved blockers.
	QueueBlocked Queue = "blocked"
	// QueueCancelled indicates the task was cancelled.
	QueueCancelled Queue = "cancelled"
)

// Valid returns true if q is one of the enumerated queue states.
func (q Queue) Valid() bool {
	switch q {
	case QueueIncoming, QueueClaimed, QueueProvisional, QueueDone, QueueFailed,
		QueueRejected, QueueEscalated, QueueRecycled, QueueBreakdown,
		QueueNeedsContinuation, QueueBlocked, QueueCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the queue represents a terminal state from
// which a task never transitions again.
func (q Queue) Terminal() bool {
	switch q {
	case QueueDone, QueueFailed, QueueCancelled, QueueEscalated, QueueRejected:
		return true
	default:
		return false
	}
}

// Accepting returns true if the queue counts as "resolved" for the
// purposes of blocker resolution (invariant 4).
func (q Queue) Accepting() bool {
	return q == QueueDone || q == QueueCancelled
}

// Priority is the ordered task priority; lower values sort first.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// priorityRank gives the sort weight for each priority, lowest first.
var priorityRank = map[Priority]int{
	PriorityP0: 0,
	PriorityP1: 1,
	PriorityP2: 2,
	PriorityP3: 3,
}

// Less reports whether p sorts before other (P0 < P1 < P2 < P3).
// Unknown priorities sort last.
func (p Priority) Less(other Priority) bool {
	pr, ok := priorityRank[p]
	if !ok {
		pr = len(priorityRank)
	}
	or, ok := priorityRank[other]
	if !ok {
		or = len(priorityRank)
	}
	return pr < or
}

// Valid returns true if p is one of the enumerated priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// MergeMethod names how an accepted task's PR should be merged.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// HookPoint names where in the lifecycle a hook runs.
type HookPoint string

const (
	HookPointBeforeSubmit HookPoint = "before_submit"
	HookPointBeforeMerge  HookPoint = "before_merge"
)

// HookType names who is responsible for executing a hook.
type HookType string

const (
	// HookTypeAgent hooks are expected to be executed by the agent process,
	// which reports evidence back through record_hook_evidence.
	HookTypeAgent HookType = "agent"
	// HookTypeOrchestrator hooks are executed by the scheduler itself.
	HookTypeOrchestrator HookType = "orchestrator"
)

// HookStatus is the current state of a single hook attached to a task.
type HookStatus string

const (
	HookStatusPending HookStatus = "pending"
	HookStatusPassed  HookStatus = "passed"
	HookStatusFailed  HookStatus = "failed"
)

// Hook is a single declarative lifecycle callback attached to a task.
type Hook struct {
	Name     string     `json:"name"`
	Point    HookPoint  `json:"point"`
	Type     HookType   `json:"type"`
	Status   HookStatus `json:"status"`
	Evidence string     `json:"evidence,omitempty"`
}

// Task is the central entity moved through the lifecycle state machine.
type Task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Role selects which agent program handles this task.
	Role string `json:"role"`
	// Priority is the scheduling priority (P0 highest).
	Priority Priority `json:"priority"`
	// Branch is the target git branch for this task's work.
	Branch string `json:"branch,omitempty"`
	Queue  Queue  `json:"queue"`
	// Flow is a free-form label, e.g. "default" or "project".
	Flow string `json:"flow,omitempty"`
	// Type is an optional free-form tag used by hook resolution.
	Type string `json:"type,omitempty"`

	AttemptCount   int `json:"attempt_count"`
	RejectionCount int `json:"rejection_count"`
	CommitsCount   int `json:"commits_count"`
	TurnsUsed      int `json:"turns_used"`
	Version        int `json:"version"`

	ClaimedBy      string     `json:"claimed_by,omitempty"`
	OrchestratorID string     `json:"orchestrator_id,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// BlockedBy lists task IDs that must all be in an accepting queue
	// before this task becomes claimable. Nil means no blockers.
	BlockedBy []string `json:"blocked_by,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
	// BreakdownID is set iff this task was produced by a decomposition.
	BreakdownID string `json:"breakdown_id,omitempty"`
	// BreakdownDepth is bounded by MAX_BREAKDOWN_DEPTH.
	BreakdownDepth int `json:"breakdown_depth"`

	PRNumber    int         `json:"pr_number,omitempty"`
	PRURL       string      `json:"pr_url,omitempty"`
	MergeMethod MergeMethod `json:"merge_method,omitempty"`

	Hooks  []Hook   `json:"hooks,omitempty"`
	Checks []string `json:"checks,omitempty"`

	// FilePath names a markdown file containing the human-authored task brief.
	FilePath string `json:"file_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Expedite moves the task ahead of its priority peers in list/claim ordering.
	Expedite bool `json:"expedite,omitempty"`
	// LastAgent is preserved across a needs_continuation transition so the
	// same agent resumes the task.
	LastAgent string `json:"last_agent,omitempty"`
	// ContinuationReason explains why the task needs continuation.
	ContinuationReason string `json:"continuation_reason,omitempty"`

	// NeedsRebase is set when the base branch has advanced past the
	// point this task's branch diverged from it, e.g. while the task
	// sat in provisional. The rebaser clears it on a successful rebase.
	NeedsRebase bool `json:"needs_rebase,omitempty"`
	// LastRebaseAttempt records when the rebaser last acted on this
	// task, used to enforce the rebase cooldown throttle.
	LastRebaseAttempt *time.Time `json:"last_rebase_attempt,omitempty"`
	// Note carries a short operator-facing annotation, e.g. a force-push
	// failure or a depth-cap acceptance explanation.
	Note string `json:"note,omitempty"`
}

// Claimable reports whether the task may currently be claimed, given the
// resolved status of its blockers. blockersResolved must already reflect
// invariant 4 (every blocker in BlockedBy is in an accepting queue).
func (t *Task) Claimable(blockersResolved bool) bool {
	if t.Queue != QueueIncoming && t.Queue != QueueNeedsContinuation {
		return false
	}
	if len(t.BlockedBy) > 0 && !blockersResolved {
		return false
	}
	return true
}

// HooksAt returns the hooks attached to the task at the given point.
func (t *Task) HooksAt(point HookPoint) []Hook {
	var out []Hook
	for _, h := range t.Hooks {
		if h.Point == point {
			out = append(out, h)
		}
	}
	return out
}

// HooksPending reports whether any hook at the given point and type has
// not reached HookStatusPassed.
func (t *Task) HooksPending(point HookPoint, typ HookType) bool {
	for _, h := range t.Hooks {
		if h.Point == point && h.Type == typ && h.Status != HookStatusPassed {
			return true
		}
	}
	return false
}

// Project is an optional grouping of tasks that share a branch.
type Project struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Branch     string        `json:"branch"`
	BaseBranch string        `json:"base_branch"`
	Status     ProjectStatus `json:"status"`
}

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "draft"
	ProjectStatusActive     ProjectStatus = "active"
	ProjectStatusReadyForPR ProjectStatus = "ready-for-pr"
	ProjectStatusComplete   ProjectStatus = "complete"
)

// ThreadMessageRole names the author role of a thread message.
type ThreadMessageRole string

const (
	ThreadRoleInstruction ThreadMessageRole = "instruction"
	ThreadRoleRejection   ThreadMessageRole = "rejection"
	ThreadRoleNote        ThreadMessageRole = "note"
	ThreadRoleEscalation  ThreadMessageRole = "escalation"
)

// ThreadMessage is an append-only message attached to a task, used to
// deliver rejection feedback without rewriting the task brief.
type ThreadMessage struct {
	TaskID    string            `json:"task_id"`
	Author    string            `json:"author"`
	Role      ThreadMessageRole `json:"role"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
}
