package remote

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rileyhilliard/releasectl/internal/errors"
)

// commandNotFoundPatterns detect "command not found" output from the shells
// found on deploy targets. They only apply with exit code 127.
var commandNotFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bash: (\S+): command not found`),
	regexp.MustCompile(`(?i)zsh: command not found: (\S+)`),
	regexp.MustCompile(`(?i)sh: \d+: (\S+): not found`),
	regexp.MustCompile(`(?i)-bash: (\S+): No such file or directory`),
	regexp.MustCompile(`(?i)sudo: (\S+): command not found`),
	regexp.MustCompile(`(?i)(\S+): command not found`),
	regexp.MustCompile(`(?i)(\S+): not found`),
}

// missingCommand reports whether stderr and exit code indicate the remote
// executable is missing, and its name when extractable.
func missingCommand(stderr string, exitCode int) (string, bool) {
	if exitCode != 127 {
		return "", false
	}
	for _, pattern := range commandNotFoundPatterns {
		if m := pattern.FindStringSubmatch(stderr); len(m) > 1 {
			return strings.TrimSuffix(m[1], ":"), true
		}
	}
	return "", true
}

func missingCommandError(host string, c Command, stderr []string) error {
	name, _ := missingCommand(strings.Join(stderr, "\n"), 127)
	if name == "" {
		name = c.Verb
	}
	return errors.New(errors.ErrDepsNotMet,
		fmt.Sprintf("'%s' is not installed or not in PATH", name),
		fmt.Sprintf("Install '%s' on %s, or check the PATH of the deploy account's non-interactive shell.", name, host)).OnHost(host)
}
