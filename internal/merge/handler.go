// Package merge provides git merge operations with smart conflict handling.
package merge

import (
	"fmt"
	"path/filepath"

	"github.com/alphie-orchestrator/taskctl/internal/git"
)

// Result represents the outcome of a merge operation.
type Result struct {
	// Success indicates whether the merge completed without conflicts.
	Success bool
	// ConflictFiles lists the files that have conflicts.
	ConflictFiles []string
	// NeedsSemanticMerge indicates that automatic merge/rebase failed
	// and the conflict requires semantic resolution (AI-assisted merge).
	NeedsSemanticMerge bool
	// Error contains any error that occurred during the merge.
	Error error
	// Diff contains the unified diff of the merged changes.
	Diff string
	// ChangedFiles lists the files that were changed in the merge.
	ChangedFiles []string
}

// Handler manages merge operations between task branches and the base branch.
type Handler struct {
	baseBranch string
	repoPath   string
	git        git.Runner
	debugLog   func(format string, args ...interface{})
}

// NewHandler creates a new Handler with the given base branch and repository path.
func NewHandler(baseBranch, repoPath string) *Handler {
	return &Handler{
		baseBranch: baseBranch,
		repoPath:   repoPath,
		git:        git.NewRunner(repoPath),
		debugLog:   func(format string, args ...interface{}) {}, // no-op by default
	}
}

// NewHandlerWithRunner creates a new Handler with a custom git runner (for testing).
func NewHandlerWithRunner(baseBranch, repoPath string, runner git.Runner) *Handler {
	return &Handler{
		baseBranch: baseBranch,
		repoPath:   repoPath,
		git:        runner,
		debugLog:   func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (m *Handler) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// RepoPath returns the repository path for this merger.
func (m *Handler) RepoPath() string {
	return m.repoPath
}

// BaseBranch returns the base branch name.
func (m *Handler) BaseBranch() string {
	return m.baseBranch
}

// GitRunner returns the git runner for direct git operations.
func (m *Handler) GitRunner() git.Runner {
	return m.git
}

// StageFiles stages the given files for commit.
func (m *Handler) StageFiles(paths ...string) error {
	return m.git.Add(paths...)
}

// CommitMerge commits the current staged changes with the given message.
func (m *Handler) CommitMerge(message string) error {
	return m.git.Commit(message)
}

// CheckoutOurs resolves a conflict by choosing the "ours" version.
func (m *Handler) CheckoutOurs(path string) error {
	return m.git.CheckoutOurs(path)
}

// CheckoutTheirs resolves a conflict by choosing the "theirs" version.
func (m *Handler) CheckoutTheirs(path string) error {
	return m.git.CheckoutTheirs(path)
}

// Merge attempts to merge the task branch into the base branch.
func (m *Handler) Merge(taskBranch string) (*Result, error) {
	if err := m.git.CheckoutBranch(m.baseBranch); err != nil {
		return &Result{
			Success: false,
			Error:   fmt.Errorf("checkout base branch: %w", err),
		}, nil
	}

	if err := m.git.MergeNoFF(taskBranch); err == nil {
		diff, _ := m.getMergeDiff()
		changedFiles, _ := m.getMergeChangedFiles()
		return &Result{
			Success:      true,
			Diff:         diff,
			ChangedFiles: changedFiles,
		}, nil
	}

	conflictFiles, _ := m.GetConflictedFiles()

	if err := m.AbortMerge(); err != nil {
		return &Result{
			Success:       false,
			ConflictFiles: conflictFiles,
			Error:         fmt.Errorf("abort merge: %w", err),
		}, nil
	}

	if err := m.git.CheckoutBranch(taskBranch); err != nil {
		return &Result{
			Success:       false,
			ConflictFiles: conflictFiles,
			Error:         fmt.Errorf("checkout task branch for rebase: %w", err),
		}, nil
	}

	if err := m.git.Rebase(m.baseBranch); err != nil {
		_ = m.git.RebaseAbort()
		_ = m.git.CheckoutBranch(m.baseBranch)

		return &Result{
			Success:            false,
			ConflictFiles:      conflictFiles,
			NeedsSemanticMerge: true,
			Error:              fmt.Errorf("rebase failed: %w", err),
		}, nil
	}

	if err := m.git.CheckoutBranch(m.baseBranch); err != nil {
		return &Result{
			Success:       false,
			ConflictFiles: conflictFiles,
			Error:         fmt.Errorf("checkout base branch after rebase: %w", err),
		}, nil
	}

	if err := m.git.MergeNoFF(taskBranch); err != nil {
		newConflictFiles, _ := m.GetConflictedFiles()
		_ = m.AbortMerge()

		return &Result{
			Success:            false,
			ConflictFiles:      newConflictFiles,
			NeedsSemanticMerge: true,
			Error:              fmt.Errorf("merge failed after rebase: %w", err),
		}, nil
	}

	diff, _ := m.getMergeDiff()
	changedFiles, _ := m.getMergeChangedFiles()
	return &Result{
		Success:      true,
		Diff:         diff,
		ChangedFiles: changedFiles,
	}, nil
}

// AbortMerge aborts an in-progress merge operation.
func (m *Handler) AbortMerge() error {
	return m.git.MergeAbort()
}

// GetConflictedFiles returns a list of files with merge conflicts.
func (m *Handler) GetConflictedFiles() ([]string, error) {
	return m.git.ConflictedFiles()
}

func (m *Handler) getMergeDiff() (string, error) {
	return m.git.DiffBetween("HEAD^", "HEAD")
}

func (m *Handler) getMergeChangedFiles() ([]string, error) {
	return m.git.ChangedFilesBetween("HEAD^", "HEAD")
}

// MergeWithRetry attempts to merge with multiple intelligent retry attempts.
func (m *Handler) MergeWithRetry(taskBranch string, maxRetries int) (*Result, error) {
	if maxRetries < 1 {
		maxRetries = 3
	}

	var lastConflictFiles []string
	var lastError error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := m.git.CheckoutBranch(m.baseBranch); err != nil {
			return &Result{
				Success: false,
				Error:   fmt.Errorf("checkout base branch (attempt %d): %w", attempt, err),
			}, nil
		}

		_ = m.git.PullFFOnly()

		if err := m.git.MergeNoFF(taskBranch); err == nil {
			diff, _ := m.getMergeDiff()
			changedFiles, _ := m.getMergeChangedFiles()
			return &Result{
				Success:      true,
				Diff:         diff,
				ChangedFiles: changedFiles,
			}, nil
		}

		lastConflictFiles, _ = m.GetConflictedFiles()
		_ = m.AbortMerge()

		if err := m.git.CheckoutBranch(taskBranch); err != nil {
			lastError = fmt.Errorf("checkout task branch for rebase (attempt %d): %w", attempt, err)
			_ = m.git.CheckoutBranch(m.baseBranch)
			continue
		}

		if err := m.git.Rebase(m.baseBranch); err != nil {
			_ = m.git.RebaseAbort()
			_ = m.git.CheckoutBranch(m.baseBranch)
			lastError = fmt.Errorf("rebase failed (attempt %d): %w", attempt, err)
			continue
		}

		if err := m.git.CheckoutBranch(m.baseBranch); err != nil {
			lastError = fmt.Errorf("checkout base after rebase (attempt %d): %w", attempt, err)
			continue
		}
	}

	return &Result{
		Success:            false,
		ConflictFiles:      lastConflictFiles,
		NeedsSemanticMerge: true,
		Error:              fmt.Errorf("merge failed after %d attempts: %w", maxRetries, lastError),
	}, nil
}

// DeleteBranch deletes the specified branch.
func (m *Handler) DeleteBranch(branch string) error {
	return m.git.DeleteBranch(branch)
}

func (m *Handler) getChangedFiles(branch, relativeTo string) ([]string, error) {
	return m.git.ChangedFilesRelative(branch, relativeTo)
}

func (m *Handler) getMergeBase(branch1, branch2 string) (string, error) {
	return m.git.MergeBase(branch1, branch2)
}

func (m *Handler) detectCriticalFileConflict(taskBranch string) ([]string, bool) {
	mergeBase, err := m.getMergeBase(m.baseBranch, taskBranch)
	if err != nil {
		return nil, false
	}

	taskFiles, err := m.getChangedFiles(taskBranch, mergeBase)
	if err != nil {
		return nil, false
	}

	baseFiles, err := m.getChangedFiles(m.baseBranch, mergeBase)
	if err != nil {
		return nil, false
	}

	if !HasCriticalFileOverlap(taskFiles, baseFiles) {
		return nil, false
	}

	taskCritical := GetCriticalFilesFromList(taskFiles)
	baseCritical := GetCriticalFilesFromList(baseFiles)

	baseSet := make(map[string]bool)
	for _, f := range baseCritical {
		baseSet[f] = true
	}

	var overlapping []string
	for _, f := range taskCritical {
		if baseSet[f] {
			overlapping = append(overlapping, f)
		}
	}

	return overlapping, len(overlapping) > 0
}

// MergeWithSmartFallback attempts a normal merge, but uses smart merge for
// critical file conflicts before falling back to semantic merge.
func (m *Handler) MergeWithSmartFallback(taskBranch string) (*Result, error) {
	criticalFiles, hasCritical := m.detectCriticalFileConflict(taskBranch)

	if hasCritical {
		m.debugLog("[merger] detected critical file conflicts: %v", criticalFiles)

		smartResult, err := SmartMerge(m.repoPath, criticalFiles, m.baseBranch, taskBranch)
		if err == nil && smartResult.Success {
			if err := ApplySmartMerge(m.repoPath, smartResult); err != nil {
				m.debugLog("[merger] failed to apply smart merge: %v", err)
			} else {
				for file := range smartResult.MergedFiles {
					_ = m.git.Add(file)
				}
				m.debugLog("[merger] applied smart merge for %d files", len(smartResult.MergedFiles))
			}
		} else if err != nil {
			m.debugLog("[merger] smart merge failed: %v", err)
		} else {
			m.debugLog("[merger] smart merge had conflicts: %v", smartResult.Conflicts)
		}
	}

	return m.Merge(taskBranch)
}

// SmartMergeForConflicts handles merge conflicts by using format-aware merge logic.
func (m *Handler) SmartMergeForConflicts(taskBranch string, conflictFiles []string) (*Result, error) {
	criticalConflicts := GetCriticalFilesFromList(conflictFiles)
	if len(criticalConflicts) == 0 {
		return &Result{
			Success:            false,
			ConflictFiles:      conflictFiles,
			NeedsSemanticMerge: true,
		}, nil
	}

	smartResult, err := SmartMerge(m.repoPath, criticalConflicts, m.baseBranch, taskBranch)
	if err != nil {
		return &Result{
			Success:            false,
			ConflictFiles:      conflictFiles,
			NeedsSemanticMerge: true,
			Error:              fmt.Errorf("smart merge failed: %w", err),
		}, nil
	}

	if !smartResult.Success {
		return &Result{
			Success:            false,
			ConflictFiles:      smartResult.Conflicts,
			NeedsSemanticMerge: true,
		}, nil
	}

	if err := ApplySmartMerge(m.repoPath, smartResult); err != nil {
		return &Result{
			Success:            false,
			ConflictFiles:      conflictFiles,
			NeedsSemanticMerge: true,
			Error:              fmt.Errorf("apply smart merge: %w", err),
		}, nil
	}

	for file := range smartResult.MergedFiles {
		fullPath := filepath.Join(m.repoPath, file)
		if err := m.git.Add(fullPath); err != nil {
			m.debugLog("[merger] failed to stage %s: %v", file, err)
		}
	}

	var remainingConflicts []string
	for _, file := range conflictFiles {
		if _, merged := smartResult.MergedFiles[file]; !merged {
			if !IsLockFile(file) {
				remainingConflicts = append(remainingConflicts, file)
			}
		}
	}

	if len(remainingConflicts) > 0 {
		return &Result{
			Success:            false,
			ConflictFiles:      remainingConflicts,
			NeedsSemanticMerge: true,
		}, nil
	}

	if err := m.git.Commit("Smart merge: resolved critical file conflicts"); err != nil {
		return &Result{
			Success:            false,
			ConflictFiles:      conflictFiles,
			NeedsSemanticMerge: true,
			Error:              fmt.Errorf("commit smart merge: %w", err),
		}, nil
	}

	diff, _ := m.getMergeDiff()
	changedFiles, _ := m.getMergeChangedFiles()

	return &Result{
		Success:      true,
		Diff:         diff,
		ChangedFiles: changedFiles,
	}, nil
}
