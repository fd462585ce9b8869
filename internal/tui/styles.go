package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/wemo/internal/ui"
)

// AppName is shown in the dashboard title bar
const AppName = "WEMO DASHBOARD"

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ui.MutedColor).
			Italic(true)

	RowStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	SelectedRowStyle = lipgloss.NewStyle().
				Foreground(ui.SuccessColor).
				Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ui.ErrorColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ui.MutedColor).
			PaddingTop(1)
)
