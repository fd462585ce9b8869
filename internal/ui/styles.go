package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - titles, borders
	SuccessColor = lipgloss.Color("#43BF6D") // Green - on, success
	ErrorColor   = lipgloss.Color("#FF5555") // Red - errors
	WarningColor = lipgloss.Color("#FFA500") // Orange - on without load, warnings
	MutedColor   = lipgloss.Color("#626262") // Gray - off, secondary info
	TextColor    = lipgloss.Color("#FFFFFF")
)

// Layout constants
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	HeaderCellStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Bold(true).
			PaddingRight(2)

	CellStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			PaddingRight(2)

	MutedStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	SuccessTitleStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)

	ResultKeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(12)

	HintStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	stateOnStyle      = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	stateNoLoadStyle  = lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	stateOffStyle     = lipgloss.NewStyle().Foreground(MutedColor)
	stateUnknownStyle = lipgloss.NewStyle().Foreground(ErrorColor)
)

// Markers
const (
	SuccessMarker = "✓"
	FailureMarker = "✗"
	OnMarker      = "●"
	OffMarker     = "○"
)

// RenderState colors a state name as printed by wemo.State.String
func RenderState(name string) string {
	switch name {
	case "on":
		return stateOnStyle.Render(OnMarker + " on")
	case "on_without_load":
		return stateNoLoadStyle.Render(OnMarker + " on (no load)")
	case "off":
		return stateOffStyle.Render(OffMarker + " off")
	default:
		return stateUnknownStyle.Render("? " + name)
	}
}

// IsTerminal reports whether stdout is a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// GetTerminalWidth returns the current terminal width, with fallback
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}
