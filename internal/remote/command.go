// Package remote runs allow-listed commands on a fleet of hosts.
//
// Commands are argument vectors, never shell strings. Each one must match
// a registered Shape before it is rendered (every argument single-quoted)
// and sent over SSH, optionally behind a sudo prefix for the service account.
package remote

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/util"
)

// Command is a remote command as an argument vector.
type Command struct {
	Verb string
	Args []string

	// Stdin is fed to the remote process. Only shapes that declare stdin
	// accept it.
	Stdin []byte
}

// Cmd builds a Command.
func Cmd(verb string, args ...string) Command {
	return Command{Verb: verb, Args: args}
}

// WithStdin returns a copy of c that feeds data to the remote process.
func (c Command) WithStdin(data []byte) Command {
	c.Stdin = data
	return c
}

// String renders the command without privilege prefix, for logs.
func (c Command) String() string {
	return Render(c, "")
}

// Render quotes every argument and prepends the sudo prefix when runAs is
// set. Callers must Validate first; Render does no checking.
func Render(c Command, runAs string) string {
	var b strings.Builder
	if runAs != "" {
		b.WriteString("sudo -n -H -u ")
		b.WriteString(util.ShellQuote(runAs))
		b.WriteString(" -- ")
	}
	b.WriteString(c.Verb)
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(util.ShellQuote(a))
	}
	return b.String()
}

// shellMeta are characters that never appear in an allowed command line.
const shellMeta = ";|&`$<>()\\\n\r\"'*?{}!#~"

// ParseCommandLine turns a raw command line into a validated Command.
// Anything that needs a shell to mean what it says (separators,
// substitutions, redirections, quotes, globs) is rejected outright.
func ParseCommandLine(line string) (Command, error) {
	if i := strings.IndexAny(line, shellMeta); i >= 0 {
		return Command{}, errors.New(errors.ErrRemoteCmdInvalid,
			fmt.Sprintf("Command line contains shell metacharacter %q", line[i]),
			"Remote commands are plain argument lists; separators, quotes and substitutions are not allowed.")
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New(errors.ErrRemoteCmdInvalid, "Empty command line", "")
	}
	cmd := Cmd(fields[0], fields[1:]...)
	if _, err := Validate(cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
