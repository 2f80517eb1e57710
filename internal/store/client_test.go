package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:    srv.URL,
		Scope:      "test-scope",
		MaxRetries: 2,
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresScope(t *testing.T) {
	_, err := New(Config{BaseURL: "http://example.com"})
	assert.Error(t, err)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{Scope: "x"})
	assert.Error(t, err)
}

func TestClientInjectsScope(t *testing.T) {
	var gotScope string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotScope = r.URL.Query().Get("scope")
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Get(context.Background(), "TASK-1")
	require.Error(t, err)
	assert.Equal(t, "test-scope", gotScope)
}

func TestGetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Get(context.Background(), "TASK-missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestSubmitConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ConflictError{ID: "TASK-1", ExpectedVersion: 3, ActualVersion: 4})
	})

	_, err := c.Submit(context.Background(), SubmitParams{TaskID: "TASK-1", Version: 3})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4, ce.ActualVersion)
}

func TestCreateRejectsLiteralNoneBlockedBy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	})

	_, err := c.Create(context.Background(), CreateParams{
		ID:        "TASK-1",
		BlockedBy: []string{"None"},
	})
	var ie *InvalidArgumentError
	require.ErrorAs(t, err, &ie)
}

func TestNormalizeBlockedBy(t *testing.T) {
	assert.Nil(t, NormalizeBlockedBy(nil))
	assert.Nil(t, NormalizeBlockedBy([]string{""}))
	assert.Nil(t, NormalizeBlockedBy([]string{"None"}))
	assert.Equal(t, []string{"TASK-0"}, NormalizeBlockedBy([]string{"TASK-0"}))
}

func TestClaimReturnsNilWhenNothingClaimable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	task, err := c.Claim(context.Background(), ClaimParams{OrchestratorID: "orch-1"})
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestClaimSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"task": models.Task{ID: "TASK-1", Queue: models.QueueClaimed},
		})
	})

	task, err := c.Claim(context.Background(), ClaimParams{OrchestratorID: "orch-1", LeaseDuration: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.QueueClaimed, task.Queue)
}

func TestDoJSONRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(models.Task{ID: "TASK-1"})
	})

	task, err := c.Get(context.Background(), "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, "TASK-1", task.ID)
	assert.Equal(t, 2, attempts)
}

func TestDoJSONDoesNotRetryConflict(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ConflictError{ID: "TASK-1"})
	})

	_, err := c.Update(context.Background(), "TASK-1", 1, map[string]any{"queue": models.QueueDone})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestSortForClaimOrdersByExpediteThenPriorityThenAge(t *testing.T) {
	now := time.Now()
	tasks := []*models.Task{
		{ID: "a", Priority: models.PriorityP1, CreatedAt: now},
		{ID: "b", Priority: models.PriorityP0, CreatedAt: now.Add(time.Minute)},
		{ID: "c", Priority: models.PriorityP0, CreatedAt: now, Expedite: true},
		{ID: "d", Priority: models.PriorityP0, CreatedAt: now.Add(-time.Minute)},
	}

	SortForClaim(tasks)

	assert.Equal(t, "c", tasks[0].ID)
	assert.Equal(t, "d", tasks[1].ID)
	assert.Equal(t, "b", tasks[2].ID)
	assert.Equal(t, "a", tasks[3].ID)
}
