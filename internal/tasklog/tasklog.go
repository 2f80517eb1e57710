// Package tasklog implements the per-task event journal: an append-only
// text log recording every lifecycle transition a task goes through,
// independent of the store's own task record. It exists so that claim
// counts, claim timestamps, and a human-readable history survive even
// when the store only keeps current state.
package tasklog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Event is one parsed line of a task's journal.
type Event struct {
	Time   time.Time
	Name   string
	Fields map[string]string
}

// Journal writes and reads the event log for a single task.
type Journal struct {
	path string
	mu   sync.Mutex
}

// Path returns the journal file path for a task under the given state
// directory: <state_dir>/logs/tasks/TASK-<id>.log.
func Path(stateDir, taskID string) string {
	return filepath.Join(stateDir, "logs", "tasks", "TASK-"+taskID+".log")
}

// Open returns a Journal for the given task, creating the parent
// directory if needed. It does not create the log file itself; that
// happens lazily on the first Append.
func Open(stateDir, taskID string) (*Journal, error) {
	path := Path(stateDir, taskID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("tasklog: create log directory: %w", err)
	}
	return &Journal{path: path}, nil
}

// Append records one event with the given fields, opening the file in
// append mode and closing it immediately afterward so no file handle is
// held between writes.
func (j *Journal) Append(name string, fields map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("tasklog: open %s: %w", j.path, err)
	}
	defer f.Close()

	line := formatLine(time.Now().UTC(), name, fields)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("tasklog: write %s: %w", j.path, err)
	}
	return nil
}

// formatLine renders one event as "[ISO8601] EVENT key=value ...",
// quoting any value containing whitespace.
func formatLine(t time.Time, name string, fields map[string]string) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(t.Format(time.RFC3339))
	b.WriteString("] ")
	b.WriteString(name)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		if strings.ContainsAny(v, " \t\r\n\"") {
			b.WriteString(strconv.Quote(v))
		} else {
			b.WriteString(v)
		}
	}
	return b.String()
}

// Events reads and parses every line of the journal. Missing files
// return an empty slice, not an error, since a task with no recorded
// events yet is a normal state.
func (j *Journal) Events() ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tasklog: open %s: %w", j.path, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := parseLine(line)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tasklog: scan %s: %w", j.path, err)
	}
	return events, nil
}

func parseLine(line string) (Event, error) {
	closeIdx := strings.Index(line, "] ")
	if !strings.HasPrefix(line, "[") || closeIdx < 0 {
		return Event{}, fmt.Errorf("tasklog: malformed line: %s", line)
	}
	ts, err := time.Parse(time.RFC3339, line[1:closeIdx])
	if err != nil {
		return Event{}, fmt.Errorf("tasklog: bad timestamp: %w", err)
	}

	rest := line[closeIdx+2:]
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return Event{}, fmt.Errorf("tasklog: missing event name")
	}

	name := parts[0]
	fields := make(map[string]string, len(parts)-1)
	// re-tokenize the remainder so quoted, space-containing values survive.
	for _, tok := range tokenizeFields(rest[len(name):]) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		val := kv[1]
		if unq, err := strconv.Unquote(val); err == nil {
			val = unq
		}
		fields[kv[0]] = val
	}

	return Event{Time: ts, Name: name, Fields: fields}, nil
}

// tokenizeFields splits "key=value" pairs separated by whitespace while
// respecting double-quoted values that may themselves contain spaces.
func tokenizeFields(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// ClaimCount returns the number of CLAIMED events recorded, which is
// the number of times this task has been picked up (including
// reclamations after a zombie orchestrator lost its lease).
func (j *Journal) ClaimCount() (int, error) {
	events, err := j.Events()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range events {
		if e.Name == "CLAIMED" {
			count++
		}
	}
	return count, nil
}

// ClaimTimes returns the timestamps of every CLAIMED event, in the
// order they were recorded.
func (j *Journal) ClaimTimes() ([]time.Time, error) {
	events, err := j.Events()
	if err != nil {
		return nil, err
	}
	var times []time.Time
	for _, e := range events {
		if e.Name == "CLAIMED" {
			times = append(times, e.Time)
		}
	}
	return times, nil
}
