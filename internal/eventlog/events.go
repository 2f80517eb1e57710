// Package eventlog is the event stream the scheduler emits as it moves
// tasks through the queue, consumed by the TUI and by anything else
// watching the run live.
package eventlog

import (
	"time"
)

// EventType names the kind of lifecycle event.
type EventType string

const (
	// EventTaskCreated indicates a new task entered the incoming queue.
	EventTaskCreated EventType = "task_created"
	// EventTaskClaimed indicates an agent instance claimed a task.
	EventTaskClaimed EventType = "task_claimed"
	// EventTaskSubmitted indicates an agent submitted work for review.
	EventTaskSubmitted EventType = "task_submitted"
	// EventTaskAccepted indicates a provisional task passed review.
	EventTaskAccepted EventType = "task_accepted"
	// EventTaskRejected indicates a provisional task was sent back.
	EventTaskRejected EventType = "task_rejected"
	// EventTaskEscalated indicates a task hit the rejection cap.
	EventTaskEscalated EventType = "task_escalated"
	// EventTaskRecycled indicates a burned-out task was replaced.
	EventTaskRecycled EventType = "task_recycled"
	// EventZombieReclaimed indicates a stale claim was released back to incoming.
	EventZombieReclaimed EventType = "zombie_reclaimed"
	// EventRebaseAttempted indicates the rebaser acted on a task.
	EventRebaseAttempted EventType = "rebase_attempted"
	// EventAgentSpawned indicates the scheduler started an agent instance.
	EventAgentSpawned EventType = "agent_spawned"
	// EventAgentExited indicates a scheduler-managed agent instance exited.
	EventAgentExited EventType = "agent_exited"
	// EventTickError indicates a tick returned an error.
	EventTickError EventType = "tick_error"
)

// Event is one entry in the stream, carrying enough context for a TUI
// panel to render a line without a follow-up query.
type Event struct {
	Type       EventType
	TaskID     string
	TaskTitle  string
	AgentName  string
	Message    string
	Err        error
	Timestamp  time.Time
	ExitCode   int
	RejectedBy string
}
