package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Espresso and crema tones, readable on light and dark terminals alike
var (
	colorAccent   = lipgloss.AdaptiveColor{Light: "#7C4A2D", Dark: "#C08457"}
	colorDetail   = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#22D3EE"}
	colorGranted  = lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#4ADE80"}
	colorRow      = lipgloss.AdaptiveColor{Light: "#374151", Dark: "#D6D3D1"}
	colorRowFocus = lipgloss.AdaptiveColor{Light: "#FAFAF9", Dark: "#1C1917"}
	colorFaint    = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#78716C"}
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRowFocus).
			Background(colorAccent).
			Padding(0, 1).
			MarginBottom(1)

	rowStyle = lipgloss.NewStyle().
			Foreground(colorRow).
			PaddingLeft(2)

	focusedRowStyle = rowStyle.
			Foreground(colorRowFocus).
			Background(colorAccent).
			Bold(true)

	detailStyle = lipgloss.NewStyle().Foreground(colorDetail)
	faintStyle  = lipgloss.NewStyle().Foreground(colorFaint)

	// grantedMark flags devices this terminal used before
	grantedMark = lipgloss.NewStyle().Foreground(colorGranted).SetString("*")
)

// truncate cuts s to width runes and marks the cut with "~"
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width < 2 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "~"
}
