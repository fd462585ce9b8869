package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/wemo/internal/wemo"
)

func TestTableAlignsColumns(t *testing.T) {
	table := &Table{
		Headers: []string{"serial", "ip"},
		Rows: [][]string{
			{"221517K0101769", "192.168.1.20"},
			{"X", "10.0.0.1"},
		},
	}

	lines := strings.Split(table.Render(), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "SERIAL") {
		t.Errorf("header = %q", lines[0])
	}
	col := strings.Index(lines[1], "192.168.1.20")
	if col < 0 || strings.Index(lines[2], "10.0.0.1") != col {
		t.Errorf("second column not aligned:\n%s", table.Render())
	}
	if w := lipgloss.Width(lines[1]); w != lipgloss.Width(lines[2]) {
		t.Errorf("row widths differ: %d vs %d", w, lipgloss.Width(lines[2]))
	}
}

func TestRenderState(t *testing.T) {
	tests := map[string]string{
		"on":              "on",
		"off":             "off",
		"on_without_load": "no load",
		"unknown(5)":      "unknown(5)",
	}
	for name, want := range tests {
		if got := RenderState(name); !strings.Contains(got, want) {
			t.Errorf("RenderState(%q) = %q, want it to contain %q", name, got, want)
		}
	}
}

func TestHintsFor(t *testing.T) {
	if hints := HintsFor(wemo.NewTimeoutError("GetBinaryState", "no reply")); len(hints) == 0 {
		t.Error("no hints for timeout")
	}
	if hints := HintsFor(errors.New("plain")); hints != nil {
		t.Errorf("hints for plain error = %v", hints)
	}
}

func TestResultRender(t *testing.T) {
	out := NewFailureResult("Toggle failed", wemo.NewTimeoutError("SetBinaryState", "no reply")).Render()
	for _, want := range []string{"Toggle failed", "no reply", "--retry"} {
		if !strings.Contains(out, want) {
			t.Errorf("failure box missing %q:\n%s", want, out)
		}
	}

	out = NewSuccessResult("Switch on", map[string]string{"Host": "192.168.1.20:49153"}).Render()
	if !strings.Contains(out, "192.168.1.20:49153") {
		t.Errorf("success box missing detail:\n%s", out)
	}
}
