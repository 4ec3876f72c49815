package remote

import "sync"

// Stream identifies which output channel a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LineHandler receives each output line as it arrives. Calls are
// serialized across hosts.
type LineHandler func(host string, stream Stream, line string)

// lineWriter is an io.Writer that splits output into lines, keeps them on
// the result and forwards them to the handler. Incomplete lines are
// buffered until a newline arrives or Flush is called.
type lineWriter struct {
	host    string
	stream  Stream
	lines   *[]string
	handler LineHandler
	mu      *sync.Mutex
	buf     []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.buf = append(w.buf, p...)

	for {
		idx := -1
		for i, b := range w.buf {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		line := string(w.buf[:idx])
		w.buf = w.buf[idx+1:]
		w.emit(line)
	}

	return n, nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		line := string(w.buf)
		w.buf = nil
		w.emit(line)
	}
}

func (w *lineWriter) emit(line string) {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	*w.lines = append(*w.lines, line)
	if w.handler != nil {
		w.mu.Lock()
		w.handler(w.host, w.stream, line)
		w.mu.Unlock()
	}
}
