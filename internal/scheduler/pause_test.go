package scheduler

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPausedReflectsSentinelFile(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, IsPaused(dir))

	require.NoError(t, os.WriteFile(PausePath(dir), nil, 0644))
	assert.True(t, IsPaused(dir))

	require.NoError(t, os.Remove(PausePath(dir)))
	assert.False(t, IsPaused(dir))
}
