// Package tui provides the optional terminal dashboard for `taskctl run
// --tui`. It is a thin view over the same eventlog stream a headless run
// prints to stdout, never a second source of truth: every line it draws
// traces back to an eventlog.Event or a scheduler.TickResult the caller
// already has.
package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Header renders the title bar.
type Header struct {
	width int
	scope string
}

// NewHeader creates a new Header for the given scope.
func NewHeader(scope string) *Header {
	return &Header{width: 80, scope: scope}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// View renders the header.
func (h *Header) View() string {
	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#45B7D1")).
		Bold(true).
		Render("taskctl")

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("243")).
		Italic(true).
		Render("task lifecycle engine — scope " + h.scope)

	style := lipgloss.NewStyle().
		Width(h.width).
		Align(lipgloss.Center).
		MarginTop(1).
		PaddingBottom(1)

	return style.Render(lipgloss.JoinVertical(lipgloss.Center, title, subtitle))
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return 4
}
