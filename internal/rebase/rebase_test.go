package rebase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphie-orchestrator/taskctl/internal/git"
	"github.com/alphie-orchestrator/taskctl/internal/lifecycle"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/internal/worktree"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// fakeRunner is a minimal scriptable git.Runner used by both the
// worktree manager (for the fetch/worktree-add plumbing) and the
// rebaser's per-attempt runner (for rebase/push).
type fakeRunner struct {
	rebaseErr     error
	conflicts     []string
	pushErr       error
	pushedArgs    [][]string
}

func (f *fakeRunner) Run(args ...string) (string, error) {
	f.pushedArgs = append(f.pushedArgs, args)
	if len(args) > 0 && args[0] == "push" {
		return "", f.pushErr
	}
	return "", nil
}
func (f *fakeRunner) CurrentBranch() (string, error)                        { return "main", nil }
func (f *fakeRunner) CreateBranch(name string) error                        { return nil }
func (f *fakeRunner) CreateAndCheckoutBranch(name string) error             { return nil }
func (f *fakeRunner) CheckoutBranch(name string) error                      { return nil }
func (f *fakeRunner) BranchExists(name string) (bool, error)                 { return true, nil }
func (f *fakeRunner) DeleteBranch(name string) error                        { return nil }
func (f *fakeRunner) Status() (string, error)                               { return "", nil }
func (f *fakeRunner) HasChanges() (bool, error)                             { return false, nil }
func (f *fakeRunner) Diff(base string) (string, error)                      { return "", nil }
func (f *fakeRunner) DiffBetween(a, b string) (string, error)               { return "", nil }
func (f *fakeRunner) ChangedFiles(base string) ([]string, error)            { return nil, nil }
func (f *fakeRunner) ChangedFilesBetween(a, b string) ([]string, error)     { return nil, nil }
func (f *fakeRunner) ChangedFilesRelative(a, b string) ([]string, error)    { return nil, nil }
func (f *fakeRunner) ConflictedFiles() ([]string, error)                    { return f.conflicts, nil }
func (f *fakeRunner) Add(paths ...string) error                             { return nil }
func (f *fakeRunner) Commit(message string) error                           { return nil }
func (f *fakeRunner) Reset(ref string) error                                { return nil }
func (f *fakeRunner) CheckoutPath(path string) error                        { return nil }
func (f *fakeRunner) Merge(branch string) error                             { return nil }
func (f *fakeRunner) MergeNoFF(branch string) error                         { return nil }
func (f *fakeRunner) MergeNoFFMessage(branch, message string) error         { return nil }
func (f *fakeRunner) MergeAbort() error                                     { return nil }
func (f *fakeRunner) MergeBase(a, b string) (string, error)                 { return "", nil }
func (f *fakeRunner) HasConflicts() (bool, error)                           { return len(f.conflicts) > 0, nil }
func (f *fakeRunner) Rebase(base string) error                              { return f.rebaseErr }
func (f *fakeRunner) RebaseAbort() error                                    { return nil }
func (f *fakeRunner) WorktreeAdd(path, branch string) error                 { return nil }
func (f *fakeRunner) WorktreeAddNewBranch(path, branch string) error        { return nil }
func (f *fakeRunner) WorktreeRemove(path string) error                      { return nil }
func (f *fakeRunner) WorktreeRemoveOptionalForce(path string, force bool) error { return nil }
func (f *fakeRunner) WorktreeUnlock(path string) error                      { return nil }
func (f *fakeRunner) WorktreeList() ([]string, error)                       { return nil, nil }
func (f *fakeRunner) WorktreeListPorcelain() (string, error)                { return "", nil }
func (f *fakeRunner) WorktreePrune() error                                  { return nil }
func (f *fakeRunner) WorktreePruneExpireNow() error                         { return nil }
func (f *fakeRunner) PullFFOnly() error                                     { return nil }
func (f *fakeRunner) ShowFile(ref, path string) (string, error)             { return "", nil }
func (f *fakeRunner) CheckoutOurs(path string) error                        { return nil }
func (f *fakeRunner) CheckoutTheirs(path string) error                      { return nil }

var _ git.Runner = (*fakeRunner)(nil)

func TestThrottleSkipsRecentAttempt(t *testing.T) {
	r := &Rebaser{cooldown: DefaultCooldown}
	now := time.Now()
	recent := now.Add(-time.Minute)
	task := &models.Task{LastRebaseAttempt: &recent}
	assert.True(t, r.throttled(task, now))

	old := now.Add(-time.Hour)
	task2 := &models.Task{LastRebaseAttempt: &old}
	assert.False(t, r.throttled(task2, now))

	task3 := &models.Task{}
	assert.False(t, r.throttled(task3, now))
}

func TestProcessDueSkipsOrchestratorImplRole(t *testing.T) {
	mux := http.NewServeMux()
	called := false
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode([]*models.Task{
				{ID: "TASK-1", Role: string(models.RoleOrchestratorImpl), NeedsRebase: true, Version: 1},
			})
		}
	})
	mux.HandleFunc("/tasks/TASK-1", func(w http.ResponseWriter, req *http.Request) {
		called = true
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := store.New(store.Config{BaseURL: srv.URL, Scope: "s"})
	require.NoError(t, err)

	r := New(client, nil, nil, "main", time.Minute)
	n, err := r.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, called)
}

func TestAttemptRejectsOnConflict(t *testing.T) {
	var rejectedReason string

	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode([]*models.Task{
				{ID: "TASK-1", Role: string(models.RoleImplementer), NeedsRebase: true, Version: 1},
			})
		}
	})
	mux.HandleFunc("/tasks/TASK-1", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Task{ID: "TASK-1", Version: 2})
	})
	mux.HandleFunc("/tasks/TASK-1/reject", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		rejectedReason, _ = body["reason"].(string)
		_ = json.NewEncoder(w).Encode(models.Task{ID: "TASK-1", Queue: models.QueueRejected, RejectionCount: 1})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := store.New(store.Config{BaseURL: srv.URL, Scope: "s"})
	require.NoError(t, err)

	stateDir := t.TempDir()
	fr := &fakeRunner{rebaseErr: assertErr, conflicts: []string{"src/foo.ts"}}
	wtMgr, err := worktree.New(stateDir, "main", fr)
	require.NoError(t, err)
	ctrl := lifecycle.New(client, wtMgr, stateDir)

	r := NewWithRunnerFactory(client, ctrl, wtMgr, "main", time.Minute, func(path string) git.Runner { return fr })

	n, err := r.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, rejectedReason, "src/foo.ts")
}

var assertErr = &rebaseTestError{"conflict"}

type rebaseTestError struct{ msg string }

func (e *rebaseTestError) Error() string { return e.msg }
