package cli

import (
	"bytes"
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runVersion runs the version command with build info v, c, d and the
// given flags, and returns what it printed.
func runVersion(t *testing.T, v, c, d string, short bool, output string) string {
	t.Helper()
	oldV, oldC, oldD := version, commit, date
	oldShort, oldOutput := versionShort, outputFlag
	t.Cleanup(func() {
		SetVersionInfo(oldV, oldC, oldD)
		versionShort, outputFlag = oldShort, oldOutput
	})
	SetVersionInfo(v, c, d)
	versionShort, outputFlag = short, output

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	return buf.String()
}

func TestVersionCommand(t *testing.T) {
	tests := []struct {
		name    string
		version string
		short   bool
		want    string
	}{
		{
			name:    "release",
			version: "1.2.3",
			want: "releasectl v1.2.3\ncommit: abc1234\nbuilt: 2025-01-08T12:00:00Z\n" +
				"go: " + runtime.Version() + "\nos/arch: " + runtime.GOOS + "/" + runtime.GOARCH + "\n",
		},
		{
			name:    "dev build keeps its name",
			version: "dev",
			want: "releasectl dev\ncommit: abc1234\nbuilt: 2025-01-08T12:00:00Z\n" +
				"go: " + runtime.Version() + "\nos/arch: " + runtime.GOOS + "/" + runtime.GOARCH + "\n",
		},
		{
			name:    "short prints the raw version",
			version: "1.2.3",
			short:   true,
			want:    "1.2.3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runVersion(t, tt.version, "abc1234", "2025-01-08T12:00:00Z", tt.short, "text")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionCommand_JSON(t *testing.T) {
	out := runVersion(t, "2.0.0", "def5678", "2025-06-15T10:00:00Z", true, "json")

	var env struct {
		Success bool        `json:"success"`
		Status  string      `json:"status"`
		Data    versionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "OK", env.Status)
	assert.Equal(t, "v2.0.0", env.Data.Version)
	assert.Equal(t, "def5678", env.Data.Commit)
	assert.Equal(t, runtime.GOOS, env.Data.OS)
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"dev", "dev"},
		{"1.2.3", "v1.2.3"},
		{"v1.2.3", "v1.2.3"},
		{"1.2.3-beta.1", "v1.2.3-beta.1"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatVersion(tt.in), "formatVersion(%q)", tt.in)
	}
}
