package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StageRow is one line of a stage summary.
type StageRow struct {
	Name     string
	Status   string
	Duration time.Duration
	Detail   string
}

// RenderStages renders one aligned line per stage:
//
//	● update_code       ok        1.2s
//	◑ cleanup           degraded  0.1s  rm: Permission denied
func RenderStages(rows []StageRow) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, r := range rows {
		if len(r.Name) > width {
			width = len(r.Name)
		}
	}

	muted := lipgloss.NewStyle().Foreground(ColorMuted)
	var b strings.Builder
	for _, r := range rows {
		style := StatusStyle(r.Status)
		b.WriteString("  ")
		b.WriteString(style.Render(StatusSymbol(r.Status)))
		b.WriteString(" ")
		b.WriteString(padRight(r.Name, width+2))
		b.WriteString(padRight(style.Render(r.Status), 10))
		if r.Duration > 0 {
			b.WriteString(muted.Render(formatDuration(r.Duration)))
		}
		if r.Detail != "" {
			b.WriteString("  ")
			b.WriteString(muted.Render(r.Detail))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderResult renders the closing line of an operation.
func RenderResult(ok bool, message string, elapsed time.Duration) string {
	symbol, color := SymbolSuccess, ColorSuccess
	if !ok {
		symbol, color = SymbolFail, ColorError
	}
	line := lipgloss.NewStyle().Foreground(color).Bold(true).Render(symbol+" "+message)
	if elapsed > 0 {
		line += " " + lipgloss.NewStyle().Foreground(ColorMuted).Render("in "+formatDuration(elapsed))
	}
	return line + "\n"
}
