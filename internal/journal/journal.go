// Package journal records the operator-facing log of one operation.
//
// A Journal is the text the classifier reads back: deploy and rollback
// engines append marker lines and per-host output to it, the CLI prints it,
// and an Archive stores it compressed under logs.dir once the run is over.
package journal

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal is an append-only list of lines. Safe for concurrent use by the
// per-host goroutines of a fan-out.
type Journal struct {
	mu      sync.Mutex
	id      string
	started time.Time
	lines   []string
	tee     io.Writer
}

// New creates an empty journal with a fresh operation id. When tee is
// non-nil every line is also written to it as it arrives.
func New(tee io.Writer) *Journal {
	return &Journal{
		id:      uuid.NewString(),
		started: time.Now(),
		tee:     tee,
	}
}

// ID returns the operation id. It is stable for the life of the journal and
// shows up in lock info and archive file names.
func (j *Journal) ID() string {
	return j.id
}

// ShortID returns the first eight characters of the operation id.
func (j *Journal) ShortID() string {
	if len(j.id) < 8 {
		return j.id
	}
	return j.id[:8]
}

// Started returns when the journal was created.
func (j *Journal) Started() time.Time {
	return j.started
}

// Line appends one or more lines. Embedded newlines split the text.
func (j *Journal) Line(text string) {
	j.append(strings.Split(strings.TrimSuffix(text, "\n"), "\n")...)
}

// Printf appends a formatted line.
func (j *Journal) Printf(format string, args ...interface{}) {
	j.Line(fmt.Sprintf(format, args...))
}

// Lines appends lines verbatim.
func (j *Journal) Lines(lines ...string) {
	j.append(lines...)
}

// HostLine appends a line of remote output attributed to host.
func (j *Journal) HostLine(host, line string) {
	j.append(fmt.Sprintf("  [%s] %s", host, line))
}

// Blank appends an empty line.
func (j *Journal) Blank() {
	j.append("")
}

func (j *Journal) append(lines ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, lines...)
	if j.tee != nil {
		for _, l := range lines {
			_, _ = io.WriteString(j.tee, l+"\n")
		}
	}
}

// Snapshot returns a copy of the lines recorded so far.
func (j *Journal) Snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.lines...)
}

// Len returns the number of recorded lines.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.lines)
}

// Text returns the journal joined with newlines, ending in one.
func (j *Journal) Text() string {
	lines := j.Snapshot()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
