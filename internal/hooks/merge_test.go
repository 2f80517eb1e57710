package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphie-orchestrator/taskctl/internal/git"
	"github.com/alphie-orchestrator/taskctl/internal/merge"
)

// fakeMergeRunner is a minimal scriptable git.Runner exercising only the
// calls conflict_presenter.go makes: MergeBase and ShowFile.
type fakeMergeRunner struct {
	mergeBase string
	showFile  map[string]string
}

func (f *fakeMergeRunner) MergeBase(a, b string) (string, error)            { return f.mergeBase, nil }
func (f *fakeMergeRunner) ShowFile(ref, path string) (string, error)        { return f.showFile[ref+":"+path], nil }
func (f *fakeMergeRunner) CurrentBranch() (string, error)                   { return "main", nil }
func (f *fakeMergeRunner) CreateBranch(name string) error                   { return nil }
func (f *fakeMergeRunner) CreateAndCheckoutBranch(name string) error        { return nil }
func (f *fakeMergeRunner) CheckoutBranch(name string) error                 { return nil }
func (f *fakeMergeRunner) BranchExists(name string) (bool, error)           { return true, nil }
func (f *fakeMergeRunner) DeleteBranch(name string) error                   { return nil }
func (f *fakeMergeRunner) Status() (string, error)                          { return "", nil }
func (f *fakeMergeRunner) HasChanges() (bool, error)                        { return false, nil }
func (f *fakeMergeRunner) Diff(base string) (string, error)                 { return "", nil }
func (f *fakeMergeRunner) DiffBetween(a, b string) (string, error)          { return "", nil }
func (f *fakeMergeRunner) ChangedFiles(base string) ([]string, error)       { return nil, nil }
func (f *fakeMergeRunner) ChangedFilesBetween(a, b string) ([]string, error) {
	return nil, nil
}
func (f *fakeMergeRunner) ChangedFilesRelative(a, b string) ([]string, error) {
	return nil, nil
}
func (f *fakeMergeRunner) ConflictedFiles() ([]string, error)               { return nil, nil }
func (f *fakeMergeRunner) Add(paths ...string) error                       { return nil }
func (f *fakeMergeRunner) Commit(message string) error                     { return nil }
func (f *fakeMergeRunner) Reset(ref string) error                          { return nil }
func (f *fakeMergeRunner) CheckoutPath(path string) error                  { return nil }
func (f *fakeMergeRunner) Merge(branch string) error                       { return nil }
func (f *fakeMergeRunner) MergeNoFF(branch string) error                   { return nil }
func (f *fakeMergeRunner) MergeNoFFMessage(branch, message string) error   { return nil }
func (f *fakeMergeRunner) MergeAbort() error                               { return nil }
func (f *fakeMergeRunner) HasConflicts() (bool, error)                     { return true, nil }
func (f *fakeMergeRunner) Rebase(base string) error                        { return nil }
func (f *fakeMergeRunner) RebaseAbort() error                              { return nil }
func (f *fakeMergeRunner) WorktreeAdd(path, branch string) error           { return nil }
func (f *fakeMergeRunner) WorktreeAddNewBranch(path, branch string) error  { return nil }
func (f *fakeMergeRunner) WorktreeRemove(path string) error                { return nil }
func (f *fakeMergeRunner) WorktreeRemoveOptionalForce(path string, force bool) error {
	return nil
}
func (f *fakeMergeRunner) WorktreeUnlock(path string) error          { return nil }
func (f *fakeMergeRunner) WorktreeList() ([]string, error)           { return nil, nil }
func (f *fakeMergeRunner) WorktreeListPorcelain() (string, error)    { return "", nil }
func (f *fakeMergeRunner) WorktreePrune() error                      { return nil }
func (f *fakeMergeRunner) WorktreePruneExpireNow() error              { return nil }
func (f *fakeMergeRunner) PullFFOnly() error                         { return nil }
func (f *fakeMergeRunner) CheckoutOurs(path string) error            { return nil }
func (f *fakeMergeRunner) CheckoutTheirs(path string) error          { return nil }
func (f *fakeMergeRunner) Run(args ...string) (string, error)        { return "", nil }

var _ git.Runner = (*fakeMergeRunner)(nil)

func TestRunMergePRWithHandlerSkipsWhenNoPR(t *testing.T) {
	hc := &Context{MergeHandler: merge.NewHandler("main", t.TempDir())}
	result := runMergePR(context.Background(), hc)
	// No PR number on the context: merge_pr is a no-op skip, not a failure.
	assert.Equal(t, StatusSkip, result.Status)
}

func TestRunMergePRMissingHandlerFails(t *testing.T) {
	hc := &Context{PRNumberForTask: 42}
	result := runMergePR(context.Background(), hc)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Contains(t, result.Message, "no merge handler")
}

func TestSemanticMergePromptHandlesMissingWorkingFile(t *testing.T) {
	hc := &Context{
		WorktreePath: t.TempDir(),
		BranchName:   "agent/TASK-1",
		TaskID:       "TASK-1",
		AgentName:    "impl-1",
		Git:          &fakeMergeRunner{},
	}
	// No file written under WorktreePath: the conflicted file was deleted
	// on one side, the presenter falls back to an empty-region summary.
	prompt := semanticMergePrompt(hc, []string{"go.mod"})
	assert.Contains(t, prompt, "go.mod")
}

func TestSemanticMergePromptSummarizesConflicts(t *testing.T) {
	dir := t.TempDir()
	conflicted := "module foo\n\n<<<<<<< HEAD\nrequire bar v1\n=======\nrequire bar v2\n>>>>>>> agent/TASK-1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte(conflicted), 0644))

	hc := &Context{
		WorktreePath: dir,
		BranchName:   "agent/TASK-1",
		TaskID:       "TASK-1",
		AgentName:    "impl-1",
		Git: &fakeMergeRunner{
			mergeBase: "base-sha",
			showFile: map[string]string{
				"base-sha:go.mod":     "module foo\n\nrequire bar v0\n",
				"HEAD:go.mod":         "module foo\n\nrequire bar v1\n",
				"agent/TASK-1:go.mod": "module foo\n\nrequire bar v2\n",
			},
		},
	}

	prompt := semanticMergePrompt(hc, []string{"go.mod"})
	assert.Contains(t, prompt, "go.mod")
	assert.Contains(t, prompt, "TASK-1")
	assert.Contains(t, prompt, "impl-1")
}
