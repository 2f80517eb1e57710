package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	initForce  bool
	initNoGit  bool
	initAgent  string
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize taskctl in a project",
	Long: `Initialize a directory for use with taskctl.

This command:
  - Verifies git is installed
  - Initializes a git repository if one doesn't exist
  - Creates the state directory structure (agents/, tasks/, threads/, rebase/)
  - Writes a starter config.yaml

The directory argument is optional and defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().StringVar(&initAgent, "agent-bin", "", "Agent runtime binary to record in the starter commands allowlist")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}
	if err := os.Chdir(absPath); err != nil {
		return fmt.Errorf("changing to directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing taskctl in %s...\n\n", absPath)

	stateDir, _ := cmd.Flags().GetString("state-dir")
	stateDirAbs := filepath.Join(absPath, stateDir)
	if _, err := os.Stat(stateDirAbs); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if err := checkGitInstalled(); err != nil {
		printStatus("x", "Git not found", color.FgRed)
		return err
	}
	printStatus("+", "Git found", color.FgGreen)

	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git flag)")
	}

	for _, sub := range []string{"agents", "tasks", "threads", "rebase"} {
		if err := os.MkdirAll(filepath.Join(stateDirAbs, sub), 0755); err != nil {
			return fmt.Errorf("creating %s/%s: %w", stateDir, sub, err)
		}
	}
	printStatus("+", fmt.Sprintf("Created %s directory structure", stateDir), color.FgGreen)

	if err := writeStarterConfig(stateDirAbs, absPath); err != nil {
		return fmt.Errorf("writing starter config: %w", err)
	}
	printStatus("+", fmt.Sprintf("Wrote %s/config.yaml", stateDir), color.FgGreen)

	if !initNoGit {
		if err := updateGitignore(absPath, stateDir); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("+", "Updated .gitignore", color.FgGreen)
	}

	fmt.Printf("\n%s taskctl initialization complete!\n\n", color.GreenString("+"))
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s/config.yaml: set scope, queue_limits, and agent blueprints\n", stateDir)
	fmt.Println("  2. Run: taskctl run")
	return nil
}

func checkGitInstalled() error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found in PATH; taskctl manages per-task worktrees and requires it")
	}
	return nil
}

func initGitRepo(repoPath string) error {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git init failed: %w\n%s", err, output)
		}
		printStatus("+", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("+", "Git repository exists", color.FgGreen)
	}
	return nil
}

func writeStarterConfig(stateDirAbs, repoPath string) error {
	path := filepath.Join(stateDirAbs, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	agentBin := initAgent
	if agentBin == "" {
		agentBin = "agent-runtime"
	}

	projectName := filepath.Base(repoPath)
	template := fmt.Sprintf(`# taskctl project configuration
scope: %s
base_branch: main

queue_limits:
  max_incoming: 50
  max_claimed: 5
  max_provisional: 10
  max_open_prs: 10

hooks:
  before_submit: [create_pr]
  before_merge: [merge_pr]

commands:
  implementer: ["%s"]

agents:
  impl-1:
    type: implementer
    role: implementer
    max_instances: 1
`, projectName, agentBin)

	return os.WriteFile(path, []byte(template), 0644)
}

func updateGitignore(repoPath, stateDir string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	var existing string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	entry := stateDir + "/agents/\n" + stateDir + "/tasks/\n" + stateDir + "/cache.db\n"
	if strings.Contains(existing, stateDir+"/agents/") {
		return nil
	}

	var out strings.Builder
	out.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		out.WriteString("\n")
	}
	out.WriteString("\n# taskctl\n")
	out.WriteString(entry)

	return os.WriteFile(gitignorePath, []byte(out.String()), 0644)
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
