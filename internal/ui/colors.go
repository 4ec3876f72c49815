package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors for status indication, as ANSI codes so they follow the
// terminal's own palette.
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// SpinnerColors are cycled through while a spinner runs.
var SpinnerColors = []lipgloss.Color{ColorSecondary, ColorInfo, ColorSuccess, ColorInfo}

// DisableColors switches every style in the package to plain text. Used for
// --no-color, NO_COLOR and output that is not a terminal.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// EnableColors restores the color profile detected from the environment.
func EnableColors() {
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// StatusStyle returns the style used for a status word such as "ok",
// "failed" or "degraded".
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "ok", "succeeded", "matched":
		return lipgloss.NewStyle().Foreground(ColorSuccess)
	case "failed", "unreachable", "mismatch":
		return lipgloss.NewStyle().Foreground(ColorError)
	case "degraded", "partial", "skipped":
		return lipgloss.NewStyle().Foreground(ColorWarning)
	default:
		return lipgloss.NewStyle().Foreground(ColorMuted)
	}
}

// StatusSymbol returns the symbol shown next to a status word.
func StatusSymbol(status string) string {
	switch status {
	case "ok", "succeeded", "matched":
		return SymbolComplete
	case "failed", "unreachable", "mismatch":
		return SymbolFail
	case "degraded", "partial":
		return SymbolWarning
	case "skipped":
		return SymbolSkipped
	default:
		return SymbolPending
	}
}
