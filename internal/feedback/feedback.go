// Package feedback implements the Review Feedback Loop's thread
// message log: rejection and escalation feedback is appended to a
// per-task message log rather than spliced into the task brief, so the
// original human-authored spec survives every retry. The next agent to
// claim the task sees the brief followed by every thread message in
// chronological order.
package feedback

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// Manager appends to and reads the thread message log for tasks under a
// single orchestrator state directory.
type Manager struct {
	stateDir string
	mu       sync.Mutex
}

// New builds a Manager rooted at stateDir.
func New(stateDir string) *Manager {
	return &Manager{stateDir: stateDir}
}

// Path returns the thread log file for a task:
// <state_dir>/threads/<task_id>.jsonl
func Path(stateDir, taskID string) string {
	return filepath.Join(stateDir, "threads", taskID+".jsonl")
}

// Post appends a thread message to the task's log, setting CreatedAt if
// it is zero.
func (m *Manager) Post(msg models.ThreadMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	path := Path(m.stateDir, msg.TaskID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("feedback: create thread directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("feedback: open %s: %w", path, err)
	}
	defer f.Close()

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("feedback: marshal thread message: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("feedback: write %s: %w", path, err)
	}
	return nil
}

// Reject is a convenience wrapper that posts a rejection-role message.
func (m *Manager) Reject(taskID, author, reason string) error {
	return m.Post(models.ThreadMessage{TaskID: taskID, Author: author, Role: models.ThreadRoleRejection, Content: reason})
}

// Escalate is a convenience wrapper that posts an escalation-role
// message, the message-to-human required once a task crosses the
// rejection cap.
func (m *Manager) Escalate(taskID, author, reason string) error {
	return m.Post(models.ThreadMessage{TaskID: taskID, Author: author, Role: models.ThreadRoleEscalation, Content: reason})
}

// Read returns every thread message recorded for taskID, in
// chronological (append) order. A task with no thread yet returns an
// empty slice, not an error.
func (m *Manager) Read(taskID string) ([]models.ThreadMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := Path(m.stateDir, taskID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("feedback: open %s: %w", path, err)
	}
	defer f.Close()

	var messages []models.ThreadMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var msg models.ThreadMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("feedback: scan %s: %w", path, err)
	}
	return messages, nil
}

// RenderConversation concatenates the task brief with every thread
// message in order, formatted for an agent's context window: the brief
// first (the stable, human-authored spec), then each message labeled
// with its role and author.
func RenderConversation(brief string, messages []models.ThreadMessage) string {
	if len(messages) == 0 {
		return brief
	}

	var b strings.Builder
	b.WriteString(brief)
	b.WriteString("\n\n## Thread\n")
	for _, msg := range messages {
		b.WriteString(fmt.Sprintf("\n### %s (%s)\n%s\n", msg.Role, msg.Author, msg.Content))
	}
	return b.String()
}
