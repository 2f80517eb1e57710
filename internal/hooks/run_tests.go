package hooks

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// runTests auto-detects the project's test command, in order: pytest
// (pyproject.toml or pytest.ini present), npm test (package.json
// present), make test (Makefile present). SKIP if none apply.
func runTests(_ context.Context, hc *Context) Result {
	return RunTestsInDir(hc.WorktreePath)
}

// RunTestsInDir runs the auto-detected test command rooted at dir. It is
// exported so other packages needing the same test-detection-and-tail
// behavior (the rebaser, in particular) don't reimplement it.
func RunTestsInDir(dir string) Result {
	if dir == "" {
		return Result{Status: StatusSkip, Message: "no worktree to test in"}
	}

	cmd := detectTestCommand(dir)
	if cmd == nil {
		return Result{Status: StatusSkip, Message: "no recognized test runner in worktree"}
	}

	out, err := runCommand(dir, cmd)
	if err != nil {
		tail := out
		if len(tail) > 3000 {
			tail = tail[len(tail)-3000:]
		}
		return Result{
			Status:            StatusFailure,
			Message:           "tests failed",
			RemediationPrompt: "Tests failed. Tail of output:\n" + tail,
		}
	}

	return Result{Status: StatusSuccess, Message: "tests passed"}
}

func detectTestCommand(dir string) []string {
	if exists(filepath.Join(dir, "pyproject.toml")) || exists(filepath.Join(dir, "pytest.ini")) {
		return []string{"pytest"}
	}
	if exists(filepath.Join(dir, "package.json")) {
		return []string{"npm", "test"}
	}
	if exists(filepath.Join(dir, "Makefile")) {
		return []string{"make", "test"}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func runCommand(dir string, args []string) (string, error) {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
