package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/internal/worktree"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// noopRunner satisfies git.Runner with no-ops, sufficient for exercising
// lifecycle transitions that never need real git state.
type noopRunner struct{}

func (noopRunner) Run(args ...string) (string, error)                        { return "", nil }
func (noopRunner) CurrentBranch() (string, error)                            { return "main", nil }
func (noopRunner) CreateBranch(name string) error                            { return nil }
func (noopRunner) CreateAndCheckoutBranch(name string) error                 { return nil }
func (noopRunner) CheckoutBranch(name string) error                          { return nil }
func (noopRunner) BranchExists(name string) (bool, error)                    { return true, nil }
func (noopRunner) DeleteBranch(name string) error                            { return nil }
func (noopRunner) Status() (string, error)                                   { return "", nil }
func (noopRunner) HasChanges() (bool, error)                                 { return false, nil }
func (noopRunner) Diff(base string) (string, error)                         { return "", nil }
func (noopRunner) DiffBetween(a, b string) (string, error)                  { return "", nil }
func (noopRunner) ChangedFiles(base string) ([]string, error)               { return nil, nil }
func (noopRunner) ChangedFilesBetween(a, b string) ([]string, error)        { return nil, nil }
func (noopRunner) ChangedFilesRelative(a, b string) ([]string, error)       { return nil, nil }
func (noopRunner) ConflictedFiles() ([]string, error)                       { return nil, nil }
func (noopRunner) Add(paths ...string) error                                { return nil }
func (noopRunner) Commit(message string) error                              { return nil }
func (noopRunner) Reset(ref string) error                                   { return nil }
func (noopRunner) CheckoutPath(path string) error                           { return nil }
func (noopRunner) Merge(branch string) error                                { return nil }
func (noopRunner) MergeNoFF(branch string) error                            { return nil }
func (noopRunner) MergeNoFFMessage(branch, message string) error            { return nil }
func (noopRunner) MergeAbort() error                                        { return nil }
func (noopRunner) MergeBase(a, b string) (string, error)                    { return "", nil }
func (noopRunner) HasConflicts() (bool, error)                              { return false, nil }
func (noopRunner) Rebase(base string) error                                 { return nil }
func (noopRunner) RebaseAbort() error                                       { return nil }
func (noopRunner) WorktreeAdd(path, branch string) error                    { return nil }
func (noopRunner) WorktreeAddNewBranch(path, branch string) error           { return nil }
func (noopRunner) WorktreeRemove(path string) error                         { return nil }
func (noopRunner) WorktreeRemoveOptionalForce(path string, force bool) error { return nil }
func (noopRunner) WorktreeUnlock(path string) error                         { return nil }
func (noopRunner) WorktreeList() ([]string, error)                         { return nil, nil }
func (noopRunner) WorktreeListPorcelain() (string, error)                  { return "", nil }
func (noopRunner) WorktreePrune() error                                    { return nil }
func (noopRunner) WorktreePruneExpireNow() error                           { return nil }
func (noopRunner) PullFFOnly() error                                       { return nil }
func (noopRunner) ShowFile(ref, path string) (string, error)               { return "", nil }
func (noopRunner) CheckoutOurs(path string) error                          { return nil }
func (noopRunner) CheckoutTheirs(path string) error                        { return nil }

func newTestController(t *testing.T, mux *http.ServeMux) (*Controller, string) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := store.New(store.Config{BaseURL: srv.URL, Scope: "s"})
	require.NoError(t, err)

	stateDir := t.TempDir()
	wtMgr, err := worktree.New(stateDir, "main", noopRunner{})
	require.NoError(t, err)

	return New(client, wtMgr, stateDir), stateDir
}

func TestCreateWritesTaskFileAndLogsEvent(t *testing.T) {
	stateDir := t.TempDir()
	briefPath := filepath.Join(stateDir, "TASK-1.md")

	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Task{
			ID: "TASK-1", Title: "Do the thing", Role: "implement",
			Priority: models.PriorityP1, Queue: models.QueueIncoming, FilePath: briefPath,
		})
	})

	ctrl, _ := newTestController(t, mux)
	task, err := ctrl.Create(context.Background(), store.CreateParams{Title: "Do the thing"})
	require.NoError(t, err)
	assert.Equal(t, "TASK-1", task.ID)

	data, err := filepath.Glob(briefPath)
	require.NoError(t, err)
	require.Len(t, data, 1)
}

func TestSubmitAutoRejectsOnZeroCommitsAfterRetry(t *testing.T) {
	var rejectCalled bool

	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/TASK-1/reject", func(w http.ResponseWriter, r *http.Request) {
		rejectCalled = true
		_ = json.NewEncoder(w).Encode(models.Task{ID: "TASK-1", Queue: models.QueueRejected, RejectionCount: 1})
	})

	ctrl, _ := newTestController(t, mux)
	task := &models.Task{ID: "TASK-1", AttemptCount: 1, Version: 1}

	updated, err := ctrl.Submit(context.Background(), task, store.SubmitParams{TaskID: "TASK-1", Version: 1, CommitsCount: 0})
	require.NoError(t, err)
	assert.True(t, rejectCalled)
	assert.Equal(t, models.QueueRejected, updated.Queue)
}

func TestRejectEscalatesAtCapAndPostsThreadMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/TASK-1/reject", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Task{ID: "TASK-1", Version: 2, RejectionCount: MaxRejections})
	})
	mux.HandleFunc("/tasks/TASK-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Task{ID: "TASK-1", Version: 3, Queue: models.QueueEscalated, RejectionCount: MaxRejections})
	})

	ctrl, _ := newTestController(t, mux)
	task := &models.Task{ID: "TASK-1", Version: 1}

	updated, err := ctrl.Reject(context.Background(), task, "still failing", "gatekeeper")
	require.NoError(t, err)
	assert.Equal(t, models.QueueEscalated, updated.Queue)

	messages, err := ctrl.thread().Read("TASK-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.ThreadRoleRejection, messages[0].Role)
	assert.Equal(t, models.ThreadRoleEscalation, messages[1].Role)
}

func TestClaimReturnsNilWhenNothingToClaim(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/claim", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "none", http.StatusNotFound)
	})

	ctrl, _ := newTestController(t, mux)
	task, content, err := ctrl.Claim(context.Background(), store.ClaimParams{OrchestratorID: "orch-1"})
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Empty(t, content)
}
