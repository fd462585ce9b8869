// Package ui renders terminal output for the wemo command.
//
// Components follow a "print once" pattern: a Table for device lists and
// a Result box for the outcome of a single command, with troubleshooting
// hints picked from the wemo error type. The interactive dashboard lives
// in package tui and reuses the palette defined here.
//
// Styles degrade to plain text when stdout is not a terminal, since
// lipgloss detects the color profile from the output.
package ui
