package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/wemo/internal/wemo"
)

// Result is a boxed outcome of a single command.
type Result struct {
	Title   string
	Details map[string]string
	Err     error
	Hints   []string
	Width   int
}

// NewSuccessResult creates a success box
func NewSuccessResult(title string, details map[string]string) *Result {
	return &Result{Title: title, Details: details, Width: GetTerminalWidth()}
}

// NewFailureResult creates a failure box with hints chosen from err
func NewFailureResult(title string, err error) *Result {
	return &Result{Title: title, Err: err, Hints: HintsFor(err), Width: GetTerminalWidth()}
}

// HintsFor returns troubleshooting tips for an error from the wemo packages
func HintsFor(err error) []string {
	typ, ok := wemo.TypeOf(err)
	if !ok {
		return nil
	}
	switch typ {
	case wemo.ErrTypeTimeout:
		return []string{
			"Check the switch is powered and on the same network",
			"Retry with --retry to relocate a switch whose address changed",
			"Increase --timeout on slow networks",
		}
	case wemo.ErrTypeNetwork:
		return []string{
			"Check the IP address and port (usually 49153)",
			"Run 'wemo scan' to find the current address",
		}
	case wemo.ErrTypeProtocol, wemo.ErrTypeBadResponse, wemo.ErrTypeParse:
		return []string{
			"The device answered with something unexpected",
			"Run with WEMO_LOG_LEVEL=debug to see the raw exchange",
		}
	case wemo.ErrTypeNoLocalIP:
		return []string{"Connect to a network with an IPv4 address"}
	case wemo.ErrTypeSubscription:
		return []string{
			"Check the callback port is reachable from the switch",
			"Set subscriptions.callback_port if 3000 is taken",
		}
	}
	return nil
}

// Render returns the styled box
func (r *Result) Render() string {
	width := r.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	color := SuccessColor
	var lines []string
	if r.Err == nil {
		lines = append(lines, SuccessTitleStyle.Render(fmt.Sprintf("%s  %s", SuccessMarker, r.Title)))
	} else {
		color = ErrorColor
		lines = append(lines, ErrorTitleStyle.Render(fmt.Sprintf("%s  %s", FailureMarker, r.Title)))
		lines = append(lines, "", ErrorMessageStyle.Render(r.Err.Error()))
	}

	if len(r.Details) > 0 {
		keys := make([]string, 0, len(r.Details))
		for k := range r.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines = append(lines, "")
		for _, k := range keys {
			lines = append(lines, ResultKeyStyle.Render(k+":")+" "+r.Details[k])
		}
	}

	if len(r.Hints) > 0 {
		lines = append(lines, "")
		for _, h := range r.Hints {
			lines = append(lines, HintStyle.Render("• "+h))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Width(width-2).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
