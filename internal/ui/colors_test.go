package ui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestColorConstants(t *testing.T) {
	// ANSI codes, so the terminal palette applies.
	for _, c := range []lipgloss.Color{
		ColorSuccess, ColorError, ColorWarning, ColorInfo,
		ColorPrimary, ColorSecondary, ColorMuted,
	} {
		assert.Regexp(t, `^[0-9]+$`, string(c))
	}
	assert.NotEmpty(t, SpinnerColors)
}

func TestDisableColors(t *testing.T) {
	DisableColors()
	t.Cleanup(EnableColors)

	got := lipgloss.NewStyle().Foreground(ColorError).Render("failed")
	assert.Equal(t, "failed", got)
}

func TestStatusSymbol(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{"ok", SymbolComplete},
		{"succeeded", SymbolComplete},
		{"failed", SymbolFail},
		{"unreachable", SymbolFail},
		{"degraded", SymbolWarning},
		{"partial", SymbolWarning},
		{"skipped", SymbolSkipped},
		{"not_run", SymbolPending},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusSymbol(tt.status))
		})
	}
}
