package remote

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/release"
)

// Arg matches one argument position of a Shape.
type Arg struct {
	Name  string
	Match func(string) bool
}

// Shape is an allowed command: a fixed verb and a grammar for each argument.
type Shape struct {
	Name  string
	Verb  string
	Args  []Arg
	Stdin bool
}

var (
	safePath    = regexp.MustCompile(`^/[A-Za-z0-9._+@:-][A-Za-z0-9._/+@:-]*$`)
	gitRef      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/+-]*$`)
	commitHash  = regexp.MustCompile(`^[0-9a-f]{7,40}$`)
	accountName = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
	toolName    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]*$`)
	repoURL     = regexp.MustCompile(`^(ssh://[A-Za-z0-9._@:-]+)?/[A-Za-z0-9._/+-]+$|^[A-Za-z0-9._-]+@[A-Za-z0-9._-]+:[A-Za-z0-9._/+-]+$`)
)

// Lit matches exactly one of the given strings.
func Lit(options ...string) Arg {
	return Arg{Name: strings.Join(options, "|"), Match: func(s string) bool {
		for _, o := range options {
			if s == o {
				return true
			}
		}
		return false
	}}
}

// Path matches an absolute path without parent references.
func Path() Arg {
	return Arg{Name: "<path>", Match: isSafePath}
}

func isSafePath(s string) bool {
	return safePath.MatchString(s) && !strings.Contains(s, "..") && !strings.Contains(s, "//")
}

// Ref matches a git branch or tag name.
func Ref() Arg {
	return Arg{Name: "<ref>", Match: isRef}
}

func isRef(s string) bool {
	return gitRef.MatchString(s) && !strings.Contains(s, "..") && !strings.HasSuffix(s, ".lock")
}

// Hash matches an abbreviated or full commit hash.
func Hash() Arg {
	return Arg{Name: "<hash>", Match: commitHash.MatchString}
}

// Group matches a unix group name.
func Group() Arg {
	return Arg{Name: "<group>", Match: accountName.MatchString}
}

// Tool matches the name of an executable looked up in PATH.
func Tool() Arg {
	return Arg{Name: "<tool>", Match: toolName.MatchString}
}

// RepoURL matches a clone url: an absolute path, ssh:// url or scp-style address.
func RepoURL() Arg {
	return Arg{Name: "<url>", Match: func(s string) bool {
		return repoURL.MatchString(s) && !strings.Contains(s, "..")
	}}
}

// Prefixed matches prefix followed by something inner matches.
func Prefixed(prefix string, inner Arg) Arg {
	return Arg{Name: prefix + inner.Name, Match: func(s string) bool {
		return strings.HasPrefix(s, prefix) && inner.Match(strings.TrimPrefix(s, prefix))
	}}
}

// Suffixed matches something inner matches followed by suffix.
func Suffixed(inner Arg, suffix string) Arg {
	return Arg{Name: inner.Name + suffix, Match: func(s string) bool {
		return strings.HasSuffix(s, suffix) && inner.Match(strings.TrimSuffix(s, suffix))
	}}
}

// shapes is the closed allow-list. Order only matters for error messages.
var shapes = []Shape{
	{Name: "probe", Verb: "true"},
	{Name: "which", Verb: "which", Args: []Arg{Tool()}},
	{Name: "mkdir", Verb: "mkdir", Args: []Arg{Path()}},
	{Name: "mkdir_p", Verb: "mkdir", Args: []Arg{Lit("-p"), Path()}},
	{Name: "remove", Verb: "rm", Args: []Arg{Lit("-f"), Path()}},
	{Name: "remove_tree", Verb: "rm", Args: []Arg{Lit("-rf"), Path()}},
	{Name: "symlink", Verb: "ln", Args: []Arg{Lit("-nsf"), Path(), Path()}},
	{Name: "rename", Verb: "mv", Args: []Arg{Path(), Path()}},
	{Name: "chgrp", Verb: "chgrp", Args: []Arg{Group(), Path()}},
	{Name: "chmod", Verb: "chmod", Args: []Arg{Lit("g+rw", "g+rwx"), Path()}},
	{Name: "test", Verb: "test", Args: []Arg{Lit("-e", "-f", "-d"), Path()}},
	{Name: "list", Verb: "ls", Args: []Arg{Lit("-1"), Path()}},
	{Name: "read", Verb: "cat", Args: []Arg{Path()}},
	{Name: "readlink", Verb: "readlink", Args: []Arg{Path()}},
	{Name: "write", Verb: "tee", Args: []Arg{Path()}, Stdin: true},
	{Name: "append", Verb: "tee", Args: []Arg{Lit("-a"), Path()}, Stdin: true},
	{Name: "disable_debug", Verb: "sed", Args: []Arg{Lit("-i"), Lit(release.DisableDebugExpression), Path()}},
	{Name: "find_versions", Verb: "find", Args: []Arg{Path(), Lit("-maxdepth"), Lit("3"), Lit("-name"), Lit("version.txt")}},
	{Name: "copy_release", Verb: "rsync", Args: []Arg{Lit("-lrpt"), Lit("--delete"), Lit("--exclude=.git"), Suffixed(Path(), "/"), Suffixed(Path(), "/")}},
	{Name: "git_clone", Verb: "git", Args: []Arg{Lit("clone"), Lit("-q"), RepoURL(), Path()}},
	{Name: "git_fetch", Verb: "git", Args: []Arg{Lit("-C"), Path(), Lit("fetch"), Lit("-q"), Lit("origin")}},
	{Name: "git_checkout", Verb: "git", Args: []Arg{Lit("-C"), Path(), Lit("checkout"), Lit("-q"), Lit("-f"), Hash()}},
	{Name: "git_clean", Verb: "git", Args: []Arg{Lit("-C"), Path(), Lit("clean"), Lit("-q"), Lit("-d"), Lit("-f")}},
	{Name: "git_ls_remote", Verb: "git", Args: []Arg{Lit("ls-remote"), Path()}},
	{Name: "git_ls_remote_ref", Verb: "git", Args: []Arg{Lit("ls-remote"), Path(), Ref()}},
	{Name: "git_show", Verb: "git", Args: []Arg{Prefixed("--git-dir=", Path()), Lit("show"), Suffixed(Ref(), ":docs/release.nfo")}},
	{Name: "git_ls_tree", Verb: "git", Args: []Arg{Prefixed("--git-dir=", Path()), Lit("ls-tree"), Lit("-r"), Lit("--name-only"), Ref()}},
}

// Shapes returns the allow-list.
func Shapes() []Shape {
	return append([]Shape(nil), shapes...)
}

// Verbs returns the executables the allow-list can invoke, sorted.
// The probe is left out since every shell provides it.
func Verbs() []string {
	seen := make(map[string]bool)
	var verbs []string
	for _, s := range shapes {
		if s.Name == "probe" || seen[s.Verb] {
			continue
		}
		seen[s.Verb] = true
		verbs = append(verbs, s.Verb)
	}
	sort.Strings(verbs)
	return verbs
}

func (s Shape) matches(c Command) bool {
	if s.Verb != c.Verb || len(s.Args) != len(c.Args) {
		return false
	}
	if len(c.Stdin) > 0 && !s.Stdin {
		return false
	}
	for i, a := range s.Args {
		if !a.Match(c.Args[i]) {
			return false
		}
	}
	return true
}

// Usage renders the shape grammar, e.g. "rm -rf <path>".
func (s Shape) Usage() string {
	parts := []string{s.Verb}
	for _, a := range s.Args {
		parts = append(parts, a.Name)
	}
	return strings.Join(parts, " ")
}

// Validate returns the shape c matches, or REMOTE_COMMAND_INVALID.
func Validate(c Command) (Shape, error) {
	var usages []string
	for _, s := range shapes {
		if s.matches(c) {
			return s, nil
		}
		if s.Verb == c.Verb {
			usages = append(usages, s.Usage())
		}
	}

	suggestion := fmt.Sprintf("'%s' is not an allowed remote command.", c.Verb)
	if len(usages) > 0 {
		suggestion = "Allowed forms: " + strings.Join(usages, "; ")
	}
	return Shape{}, errors.New(errors.ErrRemoteCmdInvalid,
		fmt.Sprintf("Refusing remote command %s", c.String()),
		suggestion)
}
