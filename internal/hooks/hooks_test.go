package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphie-orchestrator/taskctl/internal/config"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

func TestResolveHooksUsesBuiltinDefault(t *testing.T) {
	cfg := &config.Config{}
	resolved, warnings := ResolveHooks(cfg, "")
	require.Empty(t, warnings)
	require.Len(t, resolved, 2)
	assert.Equal(t, "create_pr", resolved[0].Name)
	assert.Equal(t, models.HookPointBeforeSubmit, resolved[0].Point)
	assert.Equal(t, "merge_pr", resolved[1].Name)
	assert.Equal(t, models.HookPointBeforeMerge, resolved[1].Point)
}

func TestResolveHooksPrefersPerTypeOverride(t *testing.T) {
	cfg := &config.Config{
		Hooks: config.HookPoints{BeforeSubmit: []string{"create_pr"}},
		TaskTypes: map[string]config.TaskType{
			"hotfix": {Hooks: config.HookPoints{BeforeSubmit: []string{"run_tests"}}},
		},
	}
	resolved, _ := ResolveHooks(cfg, "hotfix")
	require.Len(t, resolved, 1)
	assert.Equal(t, "run_tests", resolved[0].Name)
}

func TestResolveHooksSkipsUnknownWithWarning(t *testing.T) {
	cfg := &config.Config{Hooks: config.HookPoints{BeforeSubmit: []string{"nonexistent_hook"}}}
	resolved, warnings := ResolveHooks(cfg, "")
	assert.Empty(t, resolved)
	require.Len(t, warnings, 1)
}

func TestRunHooksFailFastStopsOnFailure(t *testing.T) {
	task := &models.Task{Hooks: []models.Hook{
		{Name: "rebase_on_main", Point: models.HookPointBeforeSubmit, Type: models.HookTypeAgent, Status: models.HookStatusPending},
		{Name: "create_pr", Point: models.HookPointBeforeSubmit, Type: models.HookTypeAgent, Status: models.HookStatusPending},
	}}

	hc := &Context{Git: nil} // nil git runner forces rebase_on_main to FAILURE
	results := RunHooks(context.Background(), task, models.HookPointBeforeSubmit, hc)

	require.Len(t, results, 1)
	assert.Equal(t, StatusFailure, results[0].Status)
	assert.False(t, AllPassed(results))
}

func TestMergePRSkipsWhenNoPR(t *testing.T) {
	hc := &Context{PRNumberForTask: 0}
	res := runMergePR(context.Background(), hc)
	assert.Equal(t, StatusSkip, res.Status)
}

func TestRunTestsSkipsWhenNoRunnerDetected(t *testing.T) {
	dir := t.TempDir()
	hc := &Context{WorktreePath: dir}
	res := runTests(context.Background(), hc)
	assert.Equal(t, StatusSkip, res.Status)
}

func TestRunTestsDetectsMakefile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Makefile"), []byte("test:\n\ttrue\n"), 0644))
	cmd := detectTestCommand(dir)
	assert.Equal(t, []string{"make", "test"}, cmd)
}
