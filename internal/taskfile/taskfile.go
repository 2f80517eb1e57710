// Package taskfile reads and writes the human-authored task brief: a
// markdown file with a structured header and two prose sections,
// `## Context` and `## Acceptance Criteria`. The brief is the durable,
// human-facing record of a task's intent; the store record carries only
// the structured metadata needed for scheduling.
package taskfile

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// Brief is the parsed form of a task's markdown file.
type Brief struct {
	Task               models.Task
	Context            string
	AcceptanceCriteria string
}

// Render serializes the brief to its canonical markdown text.
func (b Brief) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# [TASK-%s] %s\n\n", b.Task.ID, b.Task.Title)

	writeHeader(&sb, "ROLE", b.Task.Role)
	writeHeader(&sb, "PRIORITY", string(b.Task.Priority))
	writeHeader(&sb, "BRANCH", b.Task.Branch)
	writeHeader(&sb, "CREATED", b.Task.CreatedAt.UTC().Format(time.RFC3339))
	writeHeader(&sb, "CREATED_BY", b.Task.OrchestratorID)
	writeHeader(&sb, "BLOCKED_BY", blockedByHeader(b.Task.BlockedBy))
	writeHeader(&sb, "PROJECT", b.Task.ProjectID)
	writeHeader(&sb, "CHECKS", yamlFlowList(b.Task.Checks))
	writeHeader(&sb, "BREAKDOWN_DEPTH", strconv.Itoa(b.Task.BreakdownDepth))
	writeHeader(&sb, "EXPEDITE", strconv.FormatBool(b.Task.Expedite))
	writeHeader(&sb, "WIP_BRANCH", b.Task.Branch)
	writeHeader(&sb, "LAST_AGENT", b.Task.LastAgent)
	writeHeader(&sb, "CONTINUATION_REASON", b.Task.ContinuationReason)

	sb.WriteString("\n## Context\n\n")
	sb.WriteString(strings.TrimRight(b.Context, "\n"))
	sb.WriteString("\n\n## Acceptance Criteria\n\n")
	sb.WriteString(strings.TrimRight(b.AcceptanceCriteria, "\n"))
	sb.WriteString("\n")

	return sb.String()
}

func writeHeader(sb *strings.Builder, key, value string) {
	fmt.Fprintf(sb, "%s: %s\n", key, value)
}

// blockedByHeader renders BlockedBy for the header line: "None" when
// empty, a flow-style YAML sequence otherwise (e.g. "[task-1, task-2]").
func blockedByHeader(ids []string) string {
	if len(ids) == 0 {
		return "None"
	}
	return yamlFlowList(ids)
}

// parseBlockedBy is the inverse: the literal string "None" (or empty)
// parses to nil, matching the store's own normalization rule.
func parseBlockedBy(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return nil
	}
	return parseYAMLFlowList(s)
}

// yamlFlowList renders a string slice as a single-line flow-style YAML
// sequence, so list-valued headers stay on one line like their scalar
// neighbors instead of spilling into YAML's default block style.
func yamlFlowList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	node := yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, item := range items {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: item})
	}
	out, err := yaml.Marshal(&node)
	if err != nil {
		return "[]"
	}
	return strings.TrimSpace(string(out))
}

// parseYAMLFlowList parses a flow-style YAML sequence header value back
// into a string slice.
func parseYAMLFlowList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// Write renders the brief and writes it to path, creating parent
// directories if needed.
func Write(path string, b Brief) error {
	if err := os.MkdirAll(dirOf(path), 0755); err != nil {
		return fmt.Errorf("taskfile: create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(b.Render()), 0644); err != nil {
		return fmt.Errorf("taskfile: write %s: %w", path, err)
	}
	return nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// Read parses a task brief markdown file back into a Brief. It is
// tolerant of missing sections; an absent header line simply leaves the
// corresponding Task field at its zero value.
func Read(path string) (Brief, error) {
	f, err := os.Open(path)
	if err != nil {
		return Brief{}, fmt.Errorf("taskfile: open %s: %w", path, err)
	}
	defer f.Close()

	var b Brief
	var currentSection *strings.Builder
	var contextBuf, acceptanceBuf strings.Builder

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	titleParsed := false
	for scanner.Scan() {
		line := scanner.Text()

		if !titleParsed && strings.HasPrefix(line, "# [") {
			rest := strings.TrimPrefix(line, "# [")
			if idx := strings.Index(rest, "]"); idx >= 0 {
				b.Task.ID = strings.TrimPrefix(rest[:idx], "TASK-")
				b.Task.Title = strings.TrimSpace(rest[idx+1:])
			}
			titleParsed = true
			continue
		}

		if strings.HasPrefix(line, "## Context") {
			currentSection = &contextBuf
			continue
		}
		if strings.HasPrefix(line, "## Acceptance Criteria") {
			currentSection = &acceptanceBuf
			continue
		}

		if currentSection != nil {
			currentSection.WriteString(line)
			currentSection.WriteString("\n")
			continue
		}

		if key, val, ok := splitHeader(line); ok {
			applyHeader(&b.Task, key, val)
		}
	}
	if err := scanner.Err(); err != nil {
		return Brief{}, fmt.Errorf("taskfile: scan %s: %w", path, err)
	}

	b.Context = strings.TrimSpace(contextBuf.String())
	b.AcceptanceCriteria = strings.TrimSpace(acceptanceBuf.String())
	return b, nil
}

func splitHeader(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	if key != strings.ToUpper(key) {
		return "", "", false
	}
	value = strings.TrimSpace(line[idx+1:])
	return key, value, true
}

func applyHeader(t *models.Task, key, value string) {
	switch key {
	case "ROLE":
		t.Role = value
	case "PRIORITY":
		t.Priority = models.Priority(value)
	case "BRANCH", "WIP_BRANCH":
		if value != "" {
			t.Branch = value
		}
	case "CREATED":
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			t.CreatedAt = ts
		}
	case "CREATED_BY":
		t.OrchestratorID = value
	case "BLOCKED_BY":
		t.BlockedBy = parseBlockedBy(value)
	case "PROJECT":
		t.ProjectID = value
	case "CHECKS":
		if value != "" {
			t.Checks = parseYAMLFlowList(value)
		}
	case "BREAKDOWN_DEPTH":
		if n, err := strconv.Atoi(value); err == nil {
			t.BreakdownDepth = n
		}
	case "EXPEDITE":
		t.Expedite = value == "true"
	case "LAST_AGENT":
		t.LastAgent = value
	case "CONTINUATION_REASON":
		t.ContinuationReason = value
	}
}
