package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders rows as aligned columns. The first column of every row
// is padded to the widest cell of its column.
type Table struct {
	Headers []string
	Rows    [][]string
	// Style, if set, styles a cell before padding is applied.
	Style func(col int, value string) string
}

// Render returns the table as a string without a trailing newline.
func (t *Table) Render() string {
	widths := make([]int, len(t.Headers))
	cells := make([][]string, len(t.Rows))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for r, row := range t.Rows {
		cells[r] = make([]string, len(t.Headers))
		for c := range t.Headers {
			v := ""
			if c < len(row) {
				v = row[c]
			}
			if t.Style != nil {
				v = t.Style(c, v)
			}
			cells[r][c] = v
			if w := lipgloss.Width(v); w > widths[c] {
				widths[c] = w
			}
		}
	}

	var b strings.Builder
	for c, h := range t.Headers {
		b.WriteString(HeaderCellStyle.Width(widths[c] + 2).Render(strings.ToUpper(h)))
	}
	for _, row := range cells {
		b.WriteByte('\n')
		for c, v := range row {
			b.WriteString(CellStyle.Width(widths[c] + 2).Render(v))
		}
	}
	return b.String()
}

// String implements fmt.Stringer
func (t *Table) String() string {
	return t.Render()
}
