package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStages(t *testing.T) {
	DisableColors()
	t.Cleanup(EnableColors)

	got := RenderStages([]StageRow{
		{Name: "update_code", Status: "ok", Duration: 1200 * time.Millisecond},
		{Name: "cleanup", Status: "degraded", Detail: "rm: Permission denied"},
		{Name: "symlink", Status: "not_run"},
	})

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "  "+SymbolComplete+" update_code  ok        1.2s", lines[0])
	assert.Contains(t, lines[1], SymbolWarning+" cleanup      degraded")
	assert.Contains(t, lines[1], "rm: Permission denied")
	assert.Contains(t, lines[2], SymbolPending+" symlink")
}

func TestRenderStages_Empty(t *testing.T) {
	assert.Empty(t, RenderStages(nil))
}

func TestRenderResult(t *testing.T) {
	DisableColors()
	t.Cleanup(EnableColors)

	assert.Equal(t, SymbolSuccess+" Deployed in 2.0s\n", RenderResult(true, "Deployed", 2*time.Second))
	assert.Equal(t, SymbolFail+" Deploy failed\n", RenderResult(false, "Deploy failed", 0))
}
