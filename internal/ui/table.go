package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// TableColumn is one column of a report table. Width is the minimum
// width; FitColumns widens it to the content.
type TableColumn struct {
	Title string
	Width int
}

// RenderSimpleTable renders rows as a static Bubbles table, or "" when
// there are no rows.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{Title: c.Title, Width: c.Width}
	}
	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(tableRows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1),
	)
	t.SetStyles(reportTableStyles())
	return t.View()
}

func reportTableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Cell = s.Cell.Foreground(ColorPrimary)
	// Nothing is focused in CLI output; keep the first row unhighlighted.
	s.Selected = s.Cell
	return s
}

// FitColumns widens each column to its longest cell, so nothing gets
// truncated. Widths given in columns act as minimums.
func FitColumns(columns []TableColumn, rows [][]string) []TableColumn {
	out := make([]TableColumn, len(columns))
	copy(out, columns)
	for i := range out {
		if w := lipgloss.Width(out[i].Title); w > out[i].Width {
			out[i].Width = w
		}
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(out) {
				if w := lipgloss.Width(cell); w > out[i].Width {
					out[i].Width = w
				}
			}
		}
	}
	return out
}

// padRight pads s with spaces to width visible columns.
func padRight(s string, width int) string {
	if pad := width - lipgloss.Width(s); pad > 0 {
		return s + strings.Repeat(" ", pad)
	}
	return s
}
