package merge

import (
	"testing"
)

func TestResult_Success(t *testing.T) {
	result := Result{
		Success:      true,
		Diff:         "diff content",
		ChangedFiles: []string{"internal/scheduler/scheduler.go", "internal/scheduler/scheduler_test.go"},
	}

	if !result.Success {
		t.Error("expected Success to be true")
	}
	if result.NeedsSemanticMerge {
		t.Error("expected NeedsSemanticMerge to be false")
	}
	if result.Error != nil {
		t.Errorf("expected nil error, got %v", result.Error)
	}
	if len(result.ConflictFiles) != 0 {
		t.Errorf("expected empty ConflictFiles, got %v", result.ConflictFiles)
	}
	if len(result.ChangedFiles) != 2 {
		t.Errorf("expected 2 changed files, got %d", len(result.ChangedFiles))
	}
}

func TestResult_Conflict(t *testing.T) {
	result := Result{
		Success:       false,
		ConflictFiles: []string{"go.mod", "internal/worktree/worktree.go"},
		Error:         nil,
	}

	if result.Success {
		t.Error("expected Success to be false")
	}
	if len(result.ConflictFiles) != 2 {
		t.Errorf("expected 2 conflict files, got %d", len(result.ConflictFiles))
	}
	if result.ConflictFiles[0] != "go.mod" {
		t.Errorf("expected first conflict to be 'go.mod', got %q", result.ConflictFiles[0])
	}
}

func TestResult_NeedsSemanticMerge(t *testing.T) {
	result := Result{
		Success:            false,
		ConflictFiles:      []string{"internal/lifecycle/lifecycle.go"},
		NeedsSemanticMerge: true,
		Error:              nil,
	}

	if result.Success {
		t.Error("expected Success to be false")
	}
	if !result.NeedsSemanticMerge {
		t.Error("expected NeedsSemanticMerge to be true")
	}
}

func TestNewHandler(t *testing.T) {
	handler := NewHandler("main", "/tmp/repo")

	if handler == nil {
		t.Fatal("expected non-nil handler")
	}
	if handler.BaseBranch() != "main" {
		t.Errorf("expected baseBranch 'main', got %q", handler.BaseBranch())
	}
	if handler.RepoPath() != "/tmp/repo" {
		t.Errorf("expected repoPath '/tmp/repo', got %q", handler.RepoPath())
	}
}

func TestResult_DiffAndChangedFiles(t *testing.T) {
	result := Result{
		Success: true,
		Diff: `diff --git a/internal/lifecycle/lifecycle.go b/internal/lifecycle/lifecycle.go
--- a/internal/lifecycle/lifecycle.go
+++ b/internal/lifecycle/lifecycle.go
@@ -1 +1 @@
-old
+new`,
		ChangedFiles: []string{"internal/lifecycle/lifecycle.go"},
	}

	if result.Diff == "" {
		t.Error("expected non-empty diff")
	}
	if len(result.ChangedFiles) != 1 {
		t.Errorf("expected 1 changed file, got %d", len(result.ChangedFiles))
	}
	if result.ChangedFiles[0] != "internal/lifecycle/lifecycle.go" {
		t.Errorf("expected changed file 'internal/lifecycle/lifecycle.go', got %q", result.ChangedFiles[0])
	}
}

func TestResult_MultipleConflictFiles(t *testing.T) {
	conflicts := []string{
		"internal/store/client.go",
		"internal/store/client_test.go",
		"pkg/models/task.go",
	}

	result := Result{
		Success:            false,
		ConflictFiles:      conflicts,
		NeedsSemanticMerge: true,
	}

	if len(result.ConflictFiles) != 3 {
		t.Errorf("expected 3 conflict files, got %d", len(result.ConflictFiles))
	}

	for i, expected := range conflicts {
		if result.ConflictFiles[i] != expected {
			t.Errorf("conflict[%d]: expected %q, got %q", i, expected, result.ConflictFiles[i])
		}
	}
}

func TestHandler_EmptyBranchName(t *testing.T) {
	handler := NewHandler("", "/tmp/repo")

	if handler.BaseBranch() != "" {
		t.Errorf("expected empty baseBranch, got %q", handler.BaseBranch())
	}
}

func TestResult_ZeroValue(t *testing.T) {
	var result Result

	if result.Success {
		t.Error("expected zero value Success to be false")
	}
	if result.NeedsSemanticMerge {
		t.Error("expected zero value NeedsSemanticMerge to be false")
	}
	if result.Error != nil {
		t.Error("expected zero value Error to be nil")
	}
	if result.ConflictFiles != nil {
		t.Error("expected zero value ConflictFiles to be nil")
	}
	if result.ChangedFiles != nil {
		t.Error("expected zero value ChangedFiles to be nil")
	}
	if result.Diff != "" {
		t.Error("expected zero value Diff to be empty")
	}
}

func TestDetectCriticalFileConflict_NoOverlap(t *testing.T) {
	if overlap := HasCriticalFileOverlap(
		[]string{"internal/lifecycle/lifecycle.go"},
		[]string{"internal/store/client.go"},
	); overlap {
		t.Error("expected no critical file overlap between disjoint change sets")
	}
}

func TestDetectCriticalFileConflict_Overlap(t *testing.T) {
	if overlap := HasCriticalFileOverlap(
		[]string{"go.mod", "internal/lifecycle/lifecycle.go"},
		[]string{"go.mod", "internal/store/client.go"},
	); !overlap {
		t.Error("expected go.mod to be detected as an overlapping critical file")
	}
}
