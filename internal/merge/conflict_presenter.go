// Package merge provides conflict analysis and presentation.
package merge

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alphie-orchestrator/taskctl/internal/git"
)

// ConflictPresenter analyzes merge conflicts and creates structured presentations for user resolution.
type ConflictPresenter struct {
	repoPath string
	git      git.Runner
}

// NewConflictPresenter creates a new ConflictPresenter.
func NewConflictPresenter(repoPath string, gitRunner git.Runner) *ConflictPresenter {
	return &ConflictPresenter{
		repoPath: repoPath,
		git:      gitRunner,
	}
}

// AnalyzeConflict analyzes a conflicting file and creates a presentation.
func (cp *ConflictPresenter) AnalyzeConflict(
	ctx context.Context,
	filePath string,
	baseBranch, taskBranch string,
	taskID, agentID string,
	attemptNumber int,
) (*ConflictPresentation, error) {
	// Get merge base
	mergeBase, err := cp.git.MergeBase(baseBranch, taskBranch)
	if err != nil {
		return nil, fmt.Errorf("get merge base: %w", err)
	}

	// Get file content from all three versions
	baseContent, err := cp.getFileContent(mergeBase, filePath)
	if err != nil {
		// File might not exist in base (new file in both branches)
		baseContent = ""
	}

	integrationContent, err := cp.getFileContent(baseBranch, filePath)
	if err != nil {
		integrationContent = ""
	}

	taskContent, err := cp.getFileContent(taskBranch, filePath)
	if err != nil {
		taskContent = ""
	}

	// Parse conflict regions from the working tree (which has conflict markers)
	workingContent, err := cp.readWorkingFile(filePath)
	if err != nil {
		// If we can't read the working file, create a simple presentation
		// This can happen if the file was deleted in one branch
		return &ConflictPresentation{
			BaseContent:     baseContent,
			IntegrationContent:  integrationContent,
			TaskContent:    taskContent,
			ConflictRegions: []ConflictRegion{},
			FilePath:        filePath,
			TaskID:          taskID,
			AgentID:         agentID,
			BaseBranch:   baseBranch,
			TaskBranch:     taskBranch,
			AttemptNumber:   attemptNumber,
		}, nil
	}

	// Parse conflict markers to identify regions
	regions := cp.parseConflictMarkers(workingContent)

	return &ConflictPresentation{
		BaseContent:     baseContent,
		IntegrationContent:  integrationContent,
		TaskContent:    taskContent,
		ConflictRegions: regions,
		FilePath:        filePath,
		TaskID:          taskID,
		AgentID:         agentID,
		BaseBranch:   baseBranch,
		TaskBranch:     taskBranch,
		AttemptNumber:   attemptNumber,
	}, nil
}

// AnalyzeMultipleConflicts analyzes multiple conflicting files.
func (cp *ConflictPresenter) AnalyzeMultipleConflicts(
	ctx context.Context,
	filePaths []string,
	baseBranch, taskBranch string,
	taskID, agentID string,
	attemptNumber int,
) ([]ConflictPresentation, error) {
	presentations := make([]ConflictPresentation, 0, len(filePaths))

	for _, filePath := range filePaths {
		presentation, err := cp.AnalyzeConflict(ctx, filePath, baseBranch, taskBranch, taskID, agentID, attemptNumber)
		if err != nil {
			return nil, fmt.Errorf("analyze conflict for %s: %w", filePath, err)
		}
		presentations = append(presentations, *presentation)
	}

	return presentations, nil
}

// getFileContent retrieves file content from a specific git ref.
func (cp *ConflictPresenter) getFileContent(ref, filePath string) (string, error) {
	// Use git show to get file content at specific ref
	output, err := cp.git.ShowFile(ref, filePath)
	if err != nil {
		return "", err
	}
	return output, nil
}

// readWorkingFile reads file content from the working tree.
func (cp *ConflictPresenter) readWorkingFile(filePath string) (string, error) {
	fullPath := filepath.Join(cp.repoPath, filePath)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// parseConflictMarkers parses git conflict markers to identify conflict regions.
// Git conflict markers look like:
// <<<<<<< HEAD
// base-branch content
// =======
// task-branch content
// >>>>>>> branch-name
func (cp *ConflictPresenter) parseConflictMarkers(content string) []ConflictRegion {
	regions := []ConflictRegion{}
	scanner := bufio.NewScanner(strings.NewReader(content))

	lineNum := 0
	inConflict := false
	inTaskSide := false
	var currentRegion ConflictRegion
	var integrationLines, taskLines, contextLines []string
	beforeConflictLines := []string{} // Track lines before conflict for context

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if strings.HasPrefix(line, "<<<<<<<") {
			// Start of conflict region
			inConflict = true
			inTaskSide = false
			currentRegion = ConflictRegion{
				StartLine: lineNum,
			}
			// Capture context (last 3 lines before conflict)
			contextStart := len(beforeConflictLines) - 3
			if contextStart < 0 {
				contextStart = 0
			}
			contextLines = beforeConflictLines[contextStart:]
			integrationLines = []string{}
			taskLines = []string{}
			continue
		}

		if strings.HasPrefix(line, "=======") && inConflict {
			// Switch from the base-branch side to the task-branch side
			inTaskSide = true
			continue
		}

		if strings.HasPrefix(line, ">>>>>>>") && inConflict {
			// End of conflict region
			currentRegion.EndLine = lineNum
			currentRegion.IntegrationContent = strings.Join(integrationLines, "\n")
			currentRegion.TaskContent = strings.Join(taskLines, "\n")
			currentRegion.Context = strings.Join(contextLines, "\n")
			regions = append(regions, currentRegion)

			inConflict = false
			inTaskSide = false
			integrationLines = []string{}
			taskLines = []string{}
			contextLines = []string{}
			beforeConflictLines = []string{}
			continue
		}

		if inConflict {
			// Inside conflict region
			if inTaskSide {
				// After the ======= marker, collecting task-branch content
				taskLines = append(taskLines, line)
			} else {
				// Before the ======= marker, collecting base-branch content
				integrationLines = append(integrationLines, line)
			}
		} else {
			// Track lines before conflict for context
			beforeConflictLines = append(beforeConflictLines, line)
			// Keep only last 10 lines for memory efficiency
			if len(beforeConflictLines) > 10 {
				beforeConflictLines = beforeConflictLines[1:]
			}
		}
	}

	return regions
}

// FormatConflictSummary creates a human-readable summary of conflicts.
func FormatConflictSummary(presentations []ConflictPresentation) string {
	if len(presentations) == 0 {
		return "No conflicts to display"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Merge Conflicts Summary (Attempt #%d)\n", presentations[0].AttemptNumber))
	sb.WriteString(fmt.Sprintf("Task: %s | Agent: %s\n", presentations[0].TaskID, presentations[0].AgentID))
	sb.WriteString(fmt.Sprintf("Base: %s | Task Branch: %s\n\n", presentations[0].BaseBranch, presentations[0].TaskBranch))

	sb.WriteString(fmt.Sprintf("Conflicting Files: %d\n", len(presentations)))
	for i, p := range presentations {
		sb.WriteString(fmt.Sprintf("  %d. %s (%d conflict regions)\n", i+1, p.FilePath, len(p.ConflictRegions)))
	}

	return sb.String()
}

// FormatConflictDiff creates a unified diff-style view of a conflict.
func FormatConflictDiff(presentation ConflictPresentation) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("=== Conflict in %s ===\n\n", presentation.FilePath))

	if len(presentation.ConflictRegions) == 0 {
		// No specific regions (e.g., file deleted in one branch)
		sb.WriteString("Base Version:\n")
		sb.WriteString(formatContent(presentation.BaseContent))
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("Base (%s):\n", presentation.BaseBranch))
		sb.WriteString(formatContent(presentation.IntegrationContent))
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("Task (%s):\n", presentation.TaskBranch))
		sb.WriteString(formatContent(presentation.TaskContent))
	} else {
		// Show each conflict region
		for i, region := range presentation.ConflictRegions {
			sb.WriteString(fmt.Sprintf("Conflict Region %d (lines %d-%d):\n", i+1, region.StartLine, region.EndLine))
			if region.Context != "" {
				sb.WriteString("Context:\n")
				sb.WriteString(formatContent(region.Context))
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("<<<<<< Base (%s)\n", presentation.BaseBranch))
			sb.WriteString(formatContent(region.IntegrationContent))
			sb.WriteString("======\n")
			sb.WriteString(formatContent(region.TaskContent))
			sb.WriteString(fmt.Sprintf(">>>>>> Task (%s)\n\n", presentation.TaskBranch))
		}
	}

	return sb.String()
}

// formatContent formats content with line numbers for display.
func formatContent(content string) string {
	if content == "" {
		return "  (empty)\n"
	}

	lines := strings.Split(content, "\n")
	var sb strings.Builder
	for i, line := range lines {
		sb.WriteString(fmt.Sprintf("  %3d | %s\n", i+1, line))
	}
	return sb.String()
}
