package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadFromPathRequiresScope(t *testing.T) {
	path := writeConfigFile(t, "base_branch: main\n")
	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestLoadFromPathAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "scope: acme-prod\n")
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "acme-prod", cfg.Scope)
	assert.Equal(t, "main", cfg.BaseBranch)
	assert.Equal(t, 50, cfg.QueueLimits.MaxIncoming)
	assert.Equal(t, 5, cfg.QueueLimits.MaxClaimed)
	assert.Equal(t, []string{"create_pr"}, cfg.Hooks.BeforeSubmit)
	assert.Equal(t, []string{"merge_pr"}, cfg.Hooks.BeforeMerge)
	assert.Equal(t, 60, cfg.BurnoutTurnsThreshold)
	assert.Equal(t, 3, cfg.MaxBreakdownDepth)
	assert.Equal(t, 3, cfg.MaxRejections)
	assert.Equal(t, 10*time.Minute, cfg.RebaseCooldown)
}

func TestLoadFromPathOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
scope: acme-prod
base_branch: trunk
queue_limits:
  max_incoming: 100
hooks:
  before_submit: [run_tests, create_pr]
task_types:
  hotfix:
    hooks:
      before_submit: [run_tests]
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "trunk", cfg.BaseBranch)
	assert.Equal(t, 100, cfg.QueueLimits.MaxIncoming)
	assert.Equal(t, []string{"run_tests", "create_pr"}, cfg.Hooks.BeforeSubmit)
	assert.Equal(t, []string{"run_tests"}, cfg.TaskTypes["hotfix"].Hooks.BeforeSubmit)
}

func TestFoldFleetIntoAgents(t *testing.T) {
	path := writeConfigFile(t, `
scope: acme-prod
fleet:
  - name: builder-1
    type: implement
    max_instances: 2
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	require.Contains(t, cfg.Agents, "builder-1")
	assert.Equal(t, 2, cfg.Agents["builder-1"].MaxInstances)
}

func TestFileOperationsMatching(t *testing.T) {
	fo := FileOperations{
		Read:  []string{"**/*.go"},
		Write: []string{"internal/**/*.go"},
	}
	assert.True(t, fo.MatchesRead("pkg/models/task.go"))
	assert.True(t, fo.MatchesWrite("internal/store/client.go"))
	assert.False(t, fo.MatchesWrite("pkg/models/task.go"))
}
