package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphie-orchestrator/taskctl/internal/config"
	"github.com/alphie-orchestrator/taskctl/internal/eventlog"
	"github.com/alphie-orchestrator/taskctl/internal/lifecycle"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/internal/worktree"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

func newTestScheduler(t *testing.T, srvURL string, cfg *config.Config) *Scheduler {
	t.Helper()
	client, err := store.New(store.Config{BaseURL: srvURL, Scope: "s"})
	require.NoError(t, err)

	stateDir := t.TempDir()
	wtMgr, err := worktree.New(stateDir, "main", zombieNoopRunner{})
	require.NoError(t, err)
	ctrl := lifecycle.New(client, wtMgr, stateDir)

	cache, err := store.OpenCache(filepath.Join(stateDir, "cache.db"), 60*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	if cfg.Scope == "" {
		cfg.Scope = "s"
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}

	return New(cfg, client, ctrl, wtMgr, cache, stateDir)
}

func emptyQueuesHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]*models.Task{})
	})
	return mux
}

func TestTickSkipsEverythingWhenPaused(t *testing.T) {
	srv := httptest.NewServer(emptyQueuesHandler())
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL, &config.Config{})
	require.NoError(t, os.WriteFile(PausePath(sched.stateDir), nil, 0644))

	result, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Paused)
	assert.Empty(t, result.Spawned)
}

func TestTickWithNoAgentsConfiguredIsANoop(t *testing.T) {
	srv := httptest.NewServer(emptyQueuesHandler())
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL, &config.Config{
		QueueLimits: config.QueueLimits{MaxClaimed: 5, MaxProvisional: 5, MaxOpenPRs: 5},
	})

	result, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Paused)
	assert.Empty(t, result.Spawned)
	assert.Equal(t, 0, result.ZombiesReaped)
	assert.Empty(t, result.Accepted)
}

func TestSpawnBlueprintsSkipsWhenNoIncomingWork(t *testing.T) {
	srv := httptest.NewServer(emptyQueuesHandler())
	defer srv.Close()

	cfg := &config.Config{
		QueueLimits: config.QueueLimits{MaxClaimed: 5, MaxProvisional: 5, MaxOpenPRs: 5},
		Commands:    map[string][]string{"implementer": {"/bin/true"}},
		Agents: map[string]config.AgentBlueprint{
			"impl-1": {Name: "impl-1", Type: "implementer", Role: "implementer", MaxInstances: 1},
		},
	}
	sched := newTestScheduler(t, srv.URL, cfg)

	spawned, err := sched.spawnBlueprints(Counts{Incoming: 0})
	require.NoError(t, err)
	assert.Empty(t, spawned)
	assert.Empty(t, sched.instances)
}

func TestSpawnBlueprintsSkipsPausedBlueprint(t *testing.T) {
	srv := httptest.NewServer(emptyQueuesHandler())
	defer srv.Close()

	cfg := &config.Config{
		QueueLimits: config.QueueLimits{MaxClaimed: 5, MaxProvisional: 5, MaxOpenPRs: 5},
		Commands:    map[string][]string{"implementer": {"/bin/true"}},
		Agents: map[string]config.AgentBlueprint{
			"impl-1": {Name: "impl-1", Type: "implementer", Role: "implementer", MaxInstances: 1, Paused: true},
		},
	}
	sched := newTestScheduler(t, srv.URL, cfg)

	spawned, err := sched.spawnBlueprints(Counts{Incoming: 3})
	require.NoError(t, err)
	assert.Empty(t, spawned)
}

func TestSpawnBlueprintsLaunchesAndReapsInstance(t *testing.T) {
	srv := httptest.NewServer(emptyQueuesHandler())
	defer srv.Close()

	cfg := &config.Config{
		QueueLimits: config.QueueLimits{MaxClaimed: 5, MaxProvisional: 5, MaxOpenPRs: 5},
		Commands:    map[string][]string{"implementer": {"does-not-matter"}},
		Agents: map[string]config.AgentBlueprint{
			"impl-1": {Name: "impl-1", Type: "implementer", Role: "implementer", MaxInstances: 1},
		},
	}
	sched := newTestScheduler(t, srv.URL, cfg)
	sched.newCmd = func(name string, args []string, env []string) *exec.Cmd {
		return exec.Command("/bin/sleep", "0")
	}

	spawned, err := sched.spawnBlueprints(Counts{Incoming: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"impl-1"}, spawned)
	assert.Len(t, sched.instances, 1)

	st, err := readAgentState(sched.stateDir, "impl-1")
	require.NoError(t, err)
	assert.True(t, st.Running)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sched.reapFinishedInstances()
		if len(sched.instances) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, sched.instances)

	st, err = readAgentState(sched.stateDir, "impl-1")
	require.NoError(t, err)
	assert.False(t, st.Running)
}

func TestSpawnAndReapEmitAgentEvents(t *testing.T) {
	srv := httptest.NewServer(emptyQueuesHandler())
	defer srv.Close()

	cfg := &config.Config{
		QueueLimits: config.QueueLimits{MaxClaimed: 5, MaxProvisional: 5, MaxOpenPRs: 5},
		Commands:    map[string][]string{"implementer": {"does-not-matter"}},
		Agents: map[string]config.AgentBlueprint{
			"impl-1": {Name: "impl-1", Type: "implementer", Role: "implementer", MaxInstances: 1},
		},
	}
	sched := newTestScheduler(t, srv.URL, cfg)
	sched.newCmd = func(name string, args []string, env []string) *exec.Cmd {
		return exec.Command("/bin/sleep", "0")
	}

	emitter := eventlog.NewEmitter(4)
	sched.SetEventEmitter(emitter)

	_, err := sched.spawnBlueprints(Counts{Incoming: 3})
	require.NoError(t, err)

	spawnEvt := <-emitter.Events()
	assert.Equal(t, eventlog.EventAgentSpawned, spawnEvt.Type)
	assert.Equal(t, "impl-1", spawnEvt.AgentName)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sched.instances) > 0 {
		sched.reapFinishedInstances()
		time.Sleep(10 * time.Millisecond)
	}

	exitEvt := <-emitter.Events()
	assert.Equal(t, eventlog.EventAgentExited, exitEvt.Type)
	assert.Equal(t, "impl-1", exitEvt.AgentName)
}

func TestCommandForMissingAllowlistEntryErrors(t *testing.T) {
	srv := httptest.NewServer(emptyQueuesHandler())
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL, &config.Config{})
	_, _, err := sched.commandFor(config.AgentBlueprint{Type: "unregistered"})
	assert.Error(t, err)
}

func TestRunProvisionalGateSkipsTasksWithNoPendingHooks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]*models.Task{
			{ID: "TASK-1", Queue: models.QueueProvisional, Version: 1},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL, &config.Config{})
	accepted, err := sched.runProvisionalGate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accepted)
}
