package tasklog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadEvents(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "1")
	require.NoError(t, err)

	require.NoError(t, j.Append("CLAIMED", map[string]string{"by": "orch-a"}))
	require.NoError(t, j.Append("SUBMITTED", map[string]string{"commits": "3", "note": "fixed the thing"}))

	events, err := j.Events()
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "CLAIMED", events[0].Name)
	assert.Equal(t, "orch-a", events[0].Fields["by"])

	assert.Equal(t, "SUBMITTED", events[1].Name)
	assert.Equal(t, "fixed the thing", events[1].Fields["note"])
}

func TestEventsOnMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "ghost")
	require.NoError(t, err)

	events, err := j.Events()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClaimCountAndClaimTimes(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "2")
	require.NoError(t, err)

	require.NoError(t, j.Append("CLAIMED", map[string]string{"by": "orch-a"}))
	require.NoError(t, j.Append("REJECTED", map[string]string{"reason": "missing tests"}))
	require.NoError(t, j.Append("CLAIMED", map[string]string{"by": "orch-b"}))

	count, err := j.ClaimCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	times, err := j.ClaimTimes()
	require.NoError(t, err)
	assert.Len(t, times, 2)
	assert.True(t, !times[1].Before(times[0]))
}

func TestPathLayout(t *testing.T) {
	p := Path("/state", "9")
	assert.Equal(t, filepath.Join("/state", "logs", "tasks", "TASK-9.log"), p)
}

func TestFieldQuotingRoundTrips(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "3")
	require.NoError(t, err)

	require.NoError(t, j.Append("REJECTED", map[string]string{
		"reason": `needs "real" error handling and more tests`,
	}))

	events, err := j.Events()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, `needs "real" error handling and more tests`, events[0].Fields["reason"])
}
