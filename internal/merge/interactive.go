// Package merge provides conflict analysis types shared by the smart
// merge fallback and the hook engine's remediation prompt.
package merge

// ConflictRegion represents a specific conflicting region in a file.
type ConflictRegion struct {
	// StartLine is the starting line number of the conflict.
	StartLine int
	// EndLine is the ending line number of the conflict.
	EndLine int
	// IntegrationContent is the content from the base branch.
	IntegrationContent string
	// TaskContent is the content from the task's branch.
	TaskContent string
	// Context provides surrounding lines for context.
	Context string
}

// ConflictPresentation contains everything needed to describe a conflict
// in a rejection feedback thread.
type ConflictPresentation struct {
	// BaseContent is the content from the merge base (common ancestor).
	BaseContent string
	// IntegrationContent is the content from the base branch.
	IntegrationContent string
	// TaskContent is the content from the task's branch.
	TaskContent string
	// ConflictRegions identifies specific conflicting regions.
	ConflictRegions []ConflictRegion
	// FilePath is the path to the conflicting file.
	FilePath string
	// TaskID is the ID of the task that created this conflict.
	TaskID string
	// AgentID is the ID of the agent that created this conflict.
	AgentID string
	// BaseBranch is the name of the base branch.
	BaseBranch string
	// TaskBranch is the name of the task's branch.
	TaskBranch string
	// AttemptNumber is which merge attempt this is (1-based).
	AttemptNumber int
}
