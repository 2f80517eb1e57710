package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alphie-orchestrator/taskctl/internal/eventlog"
	"github.com/alphie-orchestrator/taskctl/internal/scheduler"
)

// Tab constants for navigation.
const (
	TabCounts = iota
	TabAgents
	TabLogs
)

// EventMsg wraps one eventlog.Event for delivery into the bubbletea
// update loop.
type EventMsg eventlog.Event

// TickResultMsg wraps one scheduler.Tick outcome.
type TickResultMsg struct {
	Result scheduler.TickResult
	Err    error
	At     time.Time
}

// agentRow is the dashboard's per-agent summary row, built entirely from
// EventAgentSpawned/EventAgentExited events; the TUI never queries
// liveness state directly.
type agentRow struct {
	name     string
	running  bool
	exitCode int
	updated  time.Time
}

// logLine is one rendered entry in the logs tab.
type logLine struct {
	at      time.Time
	message string
}

// App is the bubbletea model backing `taskctl run --tui`.
type App struct {
	header *Header

	currentTab int
	width      int
	height     int
	quitting   bool

	lastResult scheduler.TickResult
	lastTickAt time.Time
	lastErr    error

	agents map[string]*agentRow
	logs   []logLine
	logVP  viewport.Model
}

// New creates a new App for the given scope.
func New(scope string) *App {
	return &App{
		header: NewHeader(scope),
		agents: make(map[string]*agentRow),
		logVP:  viewport.New(80, 20),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "tab":
			a.currentTab = (a.currentTab + 1) % 3
		case "1":
			a.currentTab = TabCounts
		case "2":
			a.currentTab = TabAgents
		case "3":
			a.currentTab = TabLogs
		default:
			if a.currentTab == TabLogs {
				a.logVP, cmd = a.logVP.Update(msg)
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.header.SetWidth(msg.Width)
		a.logVP.Width = msg.Width
		a.logVP.Height = msg.Height - a.header.Height() - 4

	case EventMsg:
		a.handleEvent(eventlog.Event(msg))
		a.logVP.SetContent(a.renderLogs())
		a.logVP.GotoBottom()

	case TickResultMsg:
		a.lastResult = msg.Result
		a.lastErr = msg.Err
		a.lastTickAt = msg.At
	}

	return a, cmd
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "taskctl dashboard closed.\n"
	}

	var content string
	switch a.currentTab {
	case TabCounts:
		content = a.viewCounts()
	case TabAgents:
		content = a.viewAgents()
	case TabLogs:
		content = a.viewLogs()
	}

	return fmt.Sprintf("%s\n%s\n%s\n\n%s", a.header.View(), a.viewTabs(), content, a.viewFooter())
}

func (a *App) viewTabs() string {
	labels := []string{"Counts", "Agents", "Logs"}
	selected := lipgloss.NewStyle().Bold(true).Underline(true)
	var parts []string
	for i, label := range labels {
		if i == a.currentTab {
			parts = append(parts, selected.Render("["+label+"]"))
		} else {
			parts = append(parts, " "+label+" ")
		}
	}
	return strings.Join(parts, "  ")
}

func (a *App) viewCounts() string {
	c := a.lastResult.Counts
	var b strings.Builder
	if a.lastTickAt.IsZero() {
		fmt.Fprintln(&b, "waiting for first tick...")
		return b.String()
	}
	fmt.Fprintf(&b, "last tick: %s\n", a.lastTickAt.Format("15:04:05"))
	if a.lastResult.Paused {
		fmt.Fprintln(&b, "status: PAUSED")
	}
	fmt.Fprintf(&b, "incoming:     %d\n", c.Incoming)
	fmt.Fprintf(&b, "claimed:      %d\n", c.Claimed)
	fmt.Fprintf(&b, "provisional:  %d\n", c.Provisional)
	fmt.Fprintf(&b, "open PRs:     %d\n", c.OpenPRs)
	fmt.Fprintf(&b, "zombies reaped this tick: %d\n", a.lastResult.ZombiesReaped)
	fmt.Fprintf(&b, "accepted this tick:       %d\n", len(a.lastResult.Accepted))
	fmt.Fprintf(&b, "spawned this tick:        %d\n", len(a.lastResult.Spawned))
	if a.lastErr != nil {
		fmt.Fprintf(&b, "\nlast tick error: %v\n", a.lastErr)
	}
	return b.String()
}

func (a *App) viewAgents() string {
	if len(a.agents) == 0 {
		return "no agent activity observed yet"
	}
	var b strings.Builder
	for name, row := range a.agents {
		status := "exited"
		if row.running {
			status = "running"
		}
		fmt.Fprintf(&b, "  %-16s %-8s exit=%d  updated=%s\n", name, status, row.exitCode, row.updated.Format("15:04:05"))
	}
	return b.String()
}

// viewLogs renders the scrollable log viewport; arrow keys and
// page up/down move within it while the logs tab is active.
func (a *App) viewLogs() string {
	return a.logVP.View()
}

// renderLogs rebuilds the full log text fed into the viewport. Full
// rebuild rather than an append is fine at this volume: the viewport
// only ever holds the in-memory event buffer for one run.
func (a *App) renderLogs() string {
	if len(a.logs) == 0 {
		return "no events yet"
	}
	var b strings.Builder
	for _, line := range a.logs {
		fmt.Fprintf(&b, "%s  %s\n", line.at.Format("15:04:05"), line.message)
	}
	return b.String()
}

func (a *App) viewFooter() string {
	if a.currentTab == TabLogs {
		return "1/2/3 or Tab to switch panes  ·  ↑/↓/pgup/pgdn to scroll  ·  q to quit"
	}
	return "1/2/3 or Tab to switch panes  ·  q to quit"
}

func (a *App) handleEvent(evt eventlog.Event) {
	msg := string(evt.Type)
	if evt.TaskID != "" {
		msg += " task=" + evt.TaskID
	}
	if evt.AgentName != "" {
		msg += " agent=" + evt.AgentName
	}
	if evt.Err != nil {
		msg += " error=" + evt.Err.Error()
	}
	a.logs = append(a.logs, logLine{at: evt.Timestamp, message: msg})

	switch evt.Type {
	case eventlog.EventAgentSpawned:
		a.agents[evt.AgentName] = &agentRow{name: evt.AgentName, running: true, updated: evt.Timestamp}
	case eventlog.EventAgentExited:
		row, ok := a.agents[evt.AgentName]
		if !ok {
			row = &agentRow{name: evt.AgentName}
			a.agents[evt.AgentName] = row
		}
		row.running = false
		row.exitCode = evt.ExitCode
		row.updated = evt.Timestamp
	}
}

// Run starts the dashboard, feeding it from the given event and tick
// channels until either closes or the user quits.
func Run(scope string, events <-chan eventlog.Event, ticks <-chan TickResultMsg) error {
	app := New(scope)
	p := tea.NewProgram(app, tea.WithAltScreen())

	go func() {
		for evt := range events {
			p.Send(EventMsg(evt))
		}
	}()
	go func() {
		for tr := range ticks {
			p.Send(tr)
		}
	}()

	_, err := p.Run()
	return err
}
