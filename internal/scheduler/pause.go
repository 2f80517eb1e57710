package scheduler

import (
	"os"
	"path/filepath"
)

// pauseSentinelName is the file the scheduler checks at the top of
// every tick. Its presence/absence is controlled out-of-band (by an
// operator, the TUI, or any tool that can touch a file); the scheduler
// never manages its own lifecycle.
const pauseSentinelName = "pause"

// PausePath returns the sentinel file path under the orchestrator's
// state directory.
func PausePath(stateDir string) string {
	return filepath.Join(stateDir, pauseSentinelName)
}

// IsPaused reports whether the pause sentinel currently exists.
func IsPaused(stateDir string) bool {
	_, err := os.Stat(PausePath(stateDir))
	return err == nil
}
