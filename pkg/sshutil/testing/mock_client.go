package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rileyhilliard/releasectl/pkg/sshutil"
)

var _ sshutil.SSHClient = (*MockClient)(nil)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
}

type cannedResponse struct {
	pattern *regexp.Regexp
	resp    CommandResponse
}

// MockClient simulates an SSH connection for testing.
// Commands are tokenized like a POSIX shell would and executed against a
// virtual filesystem. Canned responses registered with SetCommandResponse
// take precedence, in registration order.
type MockClient struct {
	mu        sync.Mutex
	host      string
	address   string
	fs        *MockFS
	closed    bool
	canned    []cannedResponse
	history   []string
	repoFiles map[string]string
}

// NewMockClient creates a new mock SSH client with an empty filesystem.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:      host,
		address:   host + ":22",
		fs:        NewMockFS(),
		repoFiles: make(map[string]string),
	}
}

// Exec runs a command against the virtual filesystem.
func (m *MockClient) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	return m.exec(cmd, nil)
}

// ExecStream runs a command and writes output to the provided writers.
func (m *MockClient) ExecStream(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error) {
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	default:
	}

	var input []byte
	if stdin != nil {
		input, err = io.ReadAll(stdin)
		if err != nil {
			return -1, err
		}
	}

	out, errOut, code, execErr := m.exec(cmd, input)
	if execErr != nil {
		return -1, execErr
	}
	if stdout != nil && len(out) > 0 {
		_, _ = stdout.Write(out)
	}
	if stderr != nil && len(errOut) > 0 {
		_, _ = stderr.Write(errOut)
	}
	return code, nil
}

func (m *MockClient) exec(cmd string, stdin []byte) ([]byte, []byte, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, -1, errors.New("connection closed")
	}
	m.history = append(m.history, cmd)

	for _, c := range m.canned {
		if c.pattern.MatchString(cmd) {
			return c.resp.Stdout, c.resp.Stderr, c.resp.ExitCode, c.resp.Error
		}
	}

	argv, err := SplitCommand(cmd)
	if err != nil {
		return nil, []byte("sh: syntax error: " + err.Error() + "\n"), 2, nil
	}
	return m.run(stripSudo(argv), stdin)
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// SetCommandResponse registers a canned response for commands matching the
// regex pattern. Earlier registrations win.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canned = append(m.canned, cannedResponse{pattern: regexp.MustCompile(pattern), resp: resp})
}

// SetRepoFiles sets the working tree that a simulated git clone produces.
func (m *MockClient) SetRepoFiles(files map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoFiles = files
}

// Commands returns every command received, in order.
func (m *MockClient) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// GetFS returns the mock filesystem for direct manipulation in tests.
func (m *MockClient) GetFS() *MockFS {
	return m.fs
}

// stripSudo drops a leading "sudo ... --" privilege prefix.
func stripSudo(argv []string) []string {
	if len(argv) == 0 || argv[0] != "sudo" {
		return argv
	}
	for i, a := range argv {
		if a == "--" {
			return argv[i+1:]
		}
	}
	return argv[1:]
}

func fail(format string, args ...interface{}) ([]byte, []byte, int, error) {
	return nil, []byte(fmt.Sprintf(format, args...) + "\n"), 1, nil
}

func ok(stdout string) ([]byte, []byte, int, error) {
	if stdout == "" {
		return nil, nil, 0, nil
	}
	return []byte(stdout), nil, 0, nil
}

// splitFlags separates leading "-x" style flags from operands.
func splitFlags(args []string) (flags string, operands []string) {
	for i, a := range args {
		if a == "--" {
			return flags, args[i+1:]
		}
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			flags += strings.TrimLeft(a, "-")
			continue
		}
		return flags, args[i:]
	}
	return flags, nil
}

func (m *MockClient) run(argv []string, stdin []byte) ([]byte, []byte, int, error) {
	if len(argv) == 0 {
		return ok("")
	}
	verb, args := argv[0], argv[1:]

	switch verb {
	case "true":
		return ok("")
	case "false":
		return nil, nil, 1, nil
	case "hostname":
		return ok(m.host + "\n")
	case "which":
		if len(args) != 1 {
			return fail("usage: which <tool>")
		}
		return ok("/usr/bin/" + args[0] + "\n")
	case "mkdir":
		return m.mkdir(args)
	case "rm":
		return m.rm(args)
	case "ln":
		return m.ln(args)
	case "mv":
		return m.mv(args)
	case "chgrp", "chmod":
		return m.chattr(verb, args)
	case "test":
		return m.test(args)
	case "ls":
		return m.ls(args)
	case "cat":
		return m.cat(args)
	case "tee":
		return m.tee(args, stdin)
	case "sed":
		return m.sed(args)
	case "find":
		return m.find(args)
	case "readlink":
		return m.readlink(args)
	case "rsync":
		return m.rsync(args)
	case "git":
		return m.git(args)
	}

	return nil, []byte(fmt.Sprintf("bash: %s: command not found\n", verb)), 127, nil
}

func (m *MockClient) mkdir(args []string) ([]byte, []byte, int, error) {
	flags, paths := splitFlags(args)
	if len(paths) == 0 {
		return fail("mkdir: missing operand")
	}
	for _, p := range paths {
		if strings.Contains(flags, "p") {
			_ = m.fs.MkdirAll(p)
			continue
		}
		if err := m.fs.Mkdir(p); err != nil {
			return fail("mkdir: cannot create directory '%s': %s", p, err)
		}
	}
	return ok("")
}

func (m *MockClient) rm(args []string) ([]byte, []byte, int, error) {
	flags, paths := splitFlags(args)
	recursive := strings.ContainsAny(flags, "rR")
	force := strings.Contains(flags, "f")
	for _, p := range paths {
		if !m.fs.Exists(p) {
			if force {
				continue
			}
			return fail("rm: cannot remove '%s': No such file or directory", p)
		}
		if m.fs.IsDir(p) && !recursive {
			return fail("rm: cannot remove '%s': Is a directory", p)
		}
		_ = m.fs.Remove(p)
	}
	return ok("")
}

func (m *MockClient) ln(args []string) ([]byte, []byte, int, error) {
	flags, operands := splitFlags(args)
	if !strings.Contains(flags, "s") || len(operands) != 2 {
		return fail("ln: only symbolic links are supported")
	}
	target, link := operands[0], operands[1]
	if m.fs.Exists(link) && !strings.Contains(flags, "f") {
		return fail("ln: failed to create symbolic link '%s': File exists", link)
	}
	if err := m.fs.Symlink(target, link); err != nil {
		return fail("ln: failed to create symbolic link '%s': %s", link, err)
	}
	return ok("")
}

func (m *MockClient) mv(args []string) ([]byte, []byte, int, error) {
	_, operands := splitFlags(args)
	if len(operands) != 2 {
		return fail("mv: missing destination file operand")
	}
	if err := m.fs.Rename(operands[0], operands[1]); err != nil {
		return fail("mv: cannot move '%s' to '%s': %s", operands[0], operands[1], err)
	}
	return ok("")
}

func (m *MockClient) chattr(verb string, args []string) ([]byte, []byte, int, error) {
	_, operands := splitFlags(args)
	if len(operands) < 2 {
		return fail("%s: missing operand", verb)
	}
	for _, p := range operands[1:] {
		if !m.fs.Exists(p) {
			return fail("%s: cannot access '%s': No such file or directory", verb, p)
		}
	}
	return ok("")
}

func (m *MockClient) test(args []string) ([]byte, []byte, int, error) {
	if len(args) != 2 {
		return nil, nil, 2, nil
	}
	var hit bool
	switch args[0] {
	case "-e":
		hit = m.fs.Exists(args[1])
	case "-f":
		hit = m.fs.IsFile(args[1])
	case "-d":
		hit = m.fs.IsDir(args[1])
	case "-L", "-h":
		hit = m.fs.IsSymlink(args[1])
	default:
		return nil, nil, 2, nil
	}
	if hit {
		return ok("")
	}
	return nil, nil, 1, nil
}

func (m *MockClient) ls(args []string) ([]byte, []byte, int, error) {
	_, operands := splitFlags(args)
	if len(operands) != 1 {
		return fail("ls: expected one directory")
	}
	names, err := m.fs.List(operands[0])
	if err != nil {
		return nil, []byte(fmt.Sprintf("ls: cannot access '%s': No such file or directory\n", operands[0])), 2, nil
	}
	if len(names) == 0 {
		return ok("")
	}
	return ok(strings.Join(names, "\n") + "\n")
}

func (m *MockClient) cat(args []string) ([]byte, []byte, int, error) {
	var out []byte
	for _, p := range args {
		content, err := m.fs.ReadFile(p)
		if err != nil {
			return out, []byte("cat: " + p + ": No such file or directory\n"), 1, nil
		}
		out = append(out, content...)
	}
	return out, nil, 0, nil
}

func (m *MockClient) tee(args []string, stdin []byte) ([]byte, []byte, int, error) {
	flags, operands := splitFlags(args)
	for _, p := range operands {
		var err error
		if strings.Contains(flags, "a") {
			err = m.fs.AppendFile(p, stdin)
		} else {
			err = m.fs.WriteFile(p, stdin)
		}
		if err != nil {
			return stdin, []byte(fmt.Sprintf("tee: %s: %s\n", p, err)), 1, nil
		}
	}
	return stdin, nil, 0, nil
}

// sed supports "sed -i s/<basic regex>/<replacement>/ <file>".
func (m *MockClient) sed(args []string) ([]byte, []byte, int, error) {
	if len(args) != 3 || args[0] != "-i" {
		return fail("sed: unsupported invocation")
	}
	expr, file := args[1], args[2]
	parts := strings.Split(expr, "/")
	if len(parts) != 4 || parts[0] != "s" {
		return fail("sed: -e expression #1: unknown command")
	}
	re, err := regexp.Compile(basicToGoRegexp(parts[1]))
	if err != nil {
		return fail("sed: -e expression #1: %s", err)
	}
	content, err := m.fs.ReadFile(file)
	if err != nil {
		return fail("sed: can't read %s: No such file or directory", file)
	}
	_ = m.fs.WriteFile(file, []byte(re.ReplaceAllLiteralString(string(content), parts[2])))
	return ok("")
}

// basicToGoRegexp converts a POSIX basic regular expression to Go syntax:
// bare (){}+?| are literals in BRE, their backslashed forms are operators.
func basicToGoRegexp(bre string) string {
	var b strings.Builder
	for i := 0; i < len(bre); i++ {
		c := bre[i]
		if c == '\\' && i+1 < len(bre) && strings.IndexByte("(){}+?|", bre[i+1]) >= 0 {
			b.WriteByte(bre[i+1])
			i++
			continue
		}
		if strings.IndexByte("(){}+?|", c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// find supports "find <root> [-maxdepth N] -name <name>".
func (m *MockClient) find(args []string) ([]byte, []byte, int, error) {
	if len(args) == 0 {
		return fail("find: missing root")
	}
	root, rest := args[0], args[1:]
	maxDepth, name := 0, ""
	for i := 0; i+1 < len(rest); i += 2 {
		switch rest[i] {
		case "-maxdepth":
			maxDepth, _ = strconv.Atoi(rest[i+1])
		case "-name":
			name = rest[i+1]
		}
	}
	if !m.fs.IsDir(root) {
		return fail("find: '%s': No such file or directory", root)
	}
	matches := m.fs.Find(root, name, maxDepth)
	if len(matches) == 0 {
		return ok("")
	}
	return ok(strings.Join(matches, "\n") + "\n")
}

func (m *MockClient) readlink(args []string) ([]byte, []byte, int, error) {
	_, operands := splitFlags(args)
	if len(operands) != 1 {
		return fail("readlink: missing operand")
	}
	target, isLink := m.fs.Readlink(operands[0])
	if !isLink {
		return nil, nil, 1, nil
	}
	return ok(target + "\n")
}

// rsync supports "rsync [flags] [--exclude=X] <src>/ <dst>/".
func (m *MockClient) rsync(args []string) ([]byte, []byte, int, error) {
	exclude := ""
	var operands []string
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--exclude="):
			exclude = strings.TrimPrefix(a, "--exclude=")
		case strings.HasPrefix(a, "-"):
		default:
			operands = append(operands, a)
		}
	}
	if len(operands) != 2 {
		return fail("rsync: expected source and destination")
	}
	if err := m.fs.CopyTree(operands[0], operands[1], exclude); err != nil {
		return nil, []byte(fmt.Sprintf("rsync: change_dir \"%s\" failed: %s\n", operands[0], err)), 23, nil
	}
	return ok("")
}

// git simulates the working-copy commands used against the shared cache.
func (m *MockClient) git(args []string) ([]byte, []byte, int, error) {
	dir := ""
	if len(args) >= 2 && args[0] == "-C" {
		dir, args = args[1], args[2:]
	}
	if len(args) == 0 {
		return fail("usage: git <command>")
	}

	switch args[0] {
	case "clone":
		_, operands := splitFlags(args[1:])
		if len(operands) != 2 {
			return fail("fatal: You must specify a repository to clone.")
		}
		dst := operands[1]
		if m.fs.Exists(dst) {
			return nil, []byte(fmt.Sprintf("fatal: destination path '%s' already exists and is not an empty directory.\n", dst)), 128, nil
		}
		_ = m.fs.MkdirAll(path.Join(dst, ".git"))
		_ = m.fs.WriteFile(path.Join(dst, ".git", "config"), []byte("[remote \"origin\"]\n\turl = "+operands[0]+"\n"))
		for name, content := range m.repoFiles {
			_ = m.fs.WriteFile(path.Join(dst, name), []byte(content))
		}
		return ok("")
	case "fetch", "clean":
		if !m.fs.IsDir(path.Join(dir, ".git")) {
			return nil, []byte("fatal: not a git repository (or any of the parent directories): .git\n"), 128, nil
		}
		return ok("")
	case "checkout":
		_, operands := splitFlags(args[1:])
		if !m.fs.IsDir(path.Join(dir, ".git")) || len(operands) != 1 {
			return nil, []byte("fatal: not a git repository (or any of the parent directories): .git\n"), 128, nil
		}
		_ = m.fs.WriteFile(path.Join(dir, ".git", "HEAD"), []byte(operands[0]+"\n"))
		return ok("")
	}

	return nil, []byte(fmt.Sprintf("git: '%s' is not a git command.\n", args[0])), 1, nil
}
