// Package hooks implements the Hook Engine: declarative before_submit
// and before_merge lifecycle callbacks, their resolution order at task
// creation, and the fail-fast run_hooks dispatch.
package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/alphie-orchestrator/taskctl/internal/config"
	"github.com/alphie-orchestrator/taskctl/internal/git"
	"github.com/alphie-orchestrator/taskctl/internal/merge"
	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// Status is the outcome of running a single hook.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusSkip    Status = "SKIP"
)

// Context is the plain record passed to every hook invocation.
type Context struct {
	TaskID            string
	TaskTitle         string
	BranchName        string
	BaseBranch        string
	WorktreePath      string
	AgentName         string
	CommitsCount      int
	Extra             map[string]string
	Git               git.Runner
	MergeHandler      *merge.Handler
	PRNumberForTask   int
	MergeMethod       models.MergeMethod
}

// Result is what a hook returns.
type Result struct {
	Status             Status
	Message            string
	Context            map[string]string
	RemediationPrompt  string
}

// Hook is a single named, typed lifecycle callback.
type Hook struct {
	Name string
	Type models.HookType
	Run  func(ctx context.Context, hc *Context) Result
}

// KnownHooks is the registry of built-in hook implementations, keyed by
// name. merge_pr is always orchestrator-typed; the rest are agent-typed
// by default, matching the declared contract.
var KnownHooks = map[string]Hook{
	"rebase_on_main": {Name: "rebase_on_main", Type: models.HookTypeAgent, Run: runRebaseOnMain},
	"run_tests":      {Name: "run_tests", Type: models.HookTypeAgent, Run: runTests},
	"create_pr":      {Name: "create_pr", Type: models.HookTypeAgent, Run: runCreatePR},
	"merge_pr":       {Name: "merge_pr", Type: models.HookTypeOrchestrator, Run: runMergePR},
}

// ResolveHooks computes the hooks attached to a new task at creation
// time, following the resolution order: per-type config, then
// project-level config, then the built-in default. Unknown hook names
// are skipped with a warning returned alongside the list.
func ResolveHooks(cfg *config.Config, taskType string) (before []models.Hook, warnings []string) {
	var submitNames, mergeNames []string

	if taskType != "" {
		if tt, ok := cfg.TaskTypes[taskType]; ok {
			submitNames = tt.Hooks.BeforeSubmit
			mergeNames = tt.Hooks.BeforeMerge
		}
	}
	if submitNames == nil && mergeNames == nil {
		submitNames = cfg.Hooks.BeforeSubmit
		mergeNames = cfg.Hooks.BeforeMerge
	}
	if len(submitNames) == 0 && len(mergeNames) == 0 {
		submitNames = []string{"create_pr"}
		mergeNames = []string{"merge_pr"}
	}

	var hooksList []models.Hook
	for _, name := range submitNames {
		known, ok := KnownHooks[name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown hook %q at before_submit, skipped", name))
			continue
		}
		hooksList = append(hooksList, models.Hook{
			Name: name, Point: models.HookPointBeforeSubmit, Type: known.Type, Status: models.HookStatusPending,
		})
	}
	for _, name := range mergeNames {
		known, ok := KnownHooks[name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown hook %q at before_merge, skipped", name))
			continue
		}
		hooksList = append(hooksList, models.Hook{
			Name: name, Point: models.HookPointBeforeMerge, Type: known.Type, Status: models.HookStatusPending,
		})
	}

	return hooksList, warnings
}

// RunHooks executes the hooks attached to task at the given point,
// serially, in list order, fail-fast: the first FAILURE short-circuits
// the remainder. SKIP and SUCCESS both continue.
func RunHooks(ctx context.Context, task *models.Task, point models.HookPoint, hc *Context) []Result {
	var results []Result
	for _, h := range task.HooksAt(point) {
		known, ok := KnownHooks[h.Name]
		if !ok {
			results = append(results, Result{Status: StatusSkip, Message: "unknown hook " + h.Name})
			continue
		}
		res := known.Run(ctx, hc)
		results = append(results, res)
		if res.Status == StatusFailure {
			break
		}
	}
	return results
}

// AllPassed reports whether every result in the slice is SUCCESS or
// SKIP, i.e. nothing FAILED.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFailure {
			return false
		}
	}
	return true
}

func runRebaseOnMain(_ context.Context, hc *Context) Result {
	if hc.Git == nil {
		return Result{Status: StatusFailure, Message: "no git runner configured"}
	}

	if _, err := hc.Git.Run("fetch", "origin", hc.BaseBranch); err != nil {
		return Result{Status: StatusFailure, Message: "fetch failed: " + err.Error()}
	}

	out, err := hc.Git.Run("rev-list", "--count", "HEAD.."+"origin/"+hc.BaseBranch)
	if err == nil && strings.TrimSpace(out) == "0" {
		return Result{Status: StatusSkip, Message: "already up to date with " + hc.BaseBranch}
	}

	if err := hc.Git.Rebase("origin/" + hc.BaseBranch); err != nil {
		conflicts, _ := hc.Git.ConflictedFiles()
		_ = hc.Git.RebaseAbort()
		return Result{
			Status:  StatusFailure,
			Message: "rebase conflicted",
			RemediationPrompt: fmt.Sprintf(
				"Rebasing onto origin/%s produced conflicts in: %s. Resolve them manually, then recommit.",
				hc.BaseBranch, strings.Join(conflicts, ", ")),
		}
	}

	return Result{Status: StatusSuccess, Message: "rebased onto origin/" + hc.BaseBranch}
}

func runCreatePR(_ context.Context, hc *Context) Result {
	if hc.Git == nil {
		return Result{Status: StatusFailure, Message: "no git runner configured"}
	}
	if _, err := hc.Git.Run("push", "origin", hc.BranchName); err != nil {
		return Result{Status: StatusFailure, Message: "push failed: " + err.Error()}
	}
	// Host PR creation happens through the configured git-hosting API,
	// which lives outside this module's scope; the orchestrator wiring
	// records the resulting URL into the hook's evidence field.
	return Result{Status: StatusSuccess, Message: "branch pushed, ready for PR creation", Context: map[string]string{"branch": hc.BranchName}}
}

func runMergePR(_ context.Context, hc *Context) Result {
	if hc.PRNumberForTask == 0 {
		return Result{Status: StatusSkip, Message: "no PR associated with this task"}
	}
	if hc.MergeHandler == nil {
		return Result{Status: StatusFailure, Message: "no merge handler configured"}
	}

	result, err := hc.MergeHandler.MergeWithSmartFallback(hc.BranchName)
	if err != nil || result == nil || !result.Success {
		msg := "merge failed"
		if err != nil {
			msg = err.Error()
		} else if result != nil && result.Error != nil {
			msg = result.Error.Error()
		}

		prompt := msg
		if result != nil && result.NeedsSemanticMerge && len(result.ConflictFiles) > 0 {
			prompt = semanticMergePrompt(hc, result.ConflictFiles)
		}

		return Result{Status: StatusFailure, Message: msg, RemediationPrompt: prompt}
	}

	return Result{Status: StatusSuccess, Message: "merged via " + string(hc.MergeMethod)}
}

// semanticMergePrompt builds a structured conflict summary for the
// rejection feedback thread when automatic and smart merge both fail,
// so the agent that picks the task back up sees exactly which files
// and regions conflicted instead of a bare git error.
func semanticMergePrompt(hc *Context, conflictFiles []string) string {
	presenter := merge.NewConflictPresenter(hc.WorktreePath, hc.Git)
	presentations, err := presenter.AnalyzeMultipleConflicts(
		context.Background(), conflictFiles, "HEAD", hc.BranchName, hc.TaskID, hc.AgentName, 1)
	if err != nil || len(presentations) == 0 {
		return "merge requires manual resolution in: " + strings.Join(conflictFiles, ", ")
	}
	return merge.FormatConflictSummary(presentations)
}
