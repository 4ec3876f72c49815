// Package require provides pre-flight requirement checking for deploy targets.
// It verifies that the executables releasectl runs are installed before an
// operation relies on them.
package require

import (
	"github.com/rileyhilliard/releasectl/internal/remote"
)

// ValidateToolName checks if a tool name is safe to look up on a remote host.
func ValidateToolName(name string) bool {
	return remote.Tool().Match(name)
}

// CheckResult represents the result of checking a single requirement.
type CheckResult struct {
	// Name is the tool/requirement name.
	Name string `json:"name" yaml:"name"`
	// Satisfied is true if the tool is available.
	Satisfied bool `json:"satisfied" yaml:"satisfied"`
	// Path is where the tool was found (if satisfied).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Defaults returns the executables the remote allow-list can invoke.
func Defaults() []string {
	return remote.Verbs()
}

// Merge combines requirements from multiple sources (defaults, flags).
// Returns a deduplicated list preserving order of first occurrence.
func Merge(sources ...[]string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, source := range sources {
		for _, req := range source {
			if req != "" && !seen[req] {
				seen[req] = true
				result = append(result, req)
			}
		}
	}
	return result
}
