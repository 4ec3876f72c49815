package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/releasectl/internal/txn"
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

const spinnerInterval = 80 * time.Millisecond

// stageSpinner animates one stage line on a terminal until the stage
// settles, then replaces it with the stage's final status.
type stageSpinner struct {
	mu      sync.Mutex
	out     io.Writer
	label   string
	frame   int
	started time.Time
	last    int // visible width of the last frame drawn

	stop chan struct{}
	done chan struct{}
}

func startStageSpinner(out io.Writer, label string) *stageSpinner {
	s := &stageSpinner{
		out:     out,
		label:   label,
		started: time.Now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.draw()
	go s.animate()
	return s
}

func (s *stageSpinner) animate() {
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.frame = (s.frame + 1) % len(spinnerFrames)
			s.mu.Unlock()
			s.draw()
		}
	}
}

// halt stops the animation. Safe to call more than once.
func (s *stageSpinner) halt() {
	s.mu.Lock()
	select {
	case <-s.stop:
		s.mu.Unlock()
		return
	default:
		close(s.stop)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *stageSpinner) draw() {
	s.mu.Lock()
	defer s.mu.Unlock()

	style := lipgloss.NewStyle().Foreground(SpinnerColors[(s.frame/2)%len(SpinnerColors)])
	line := fmt.Sprintf("%s %s...", style.Render(spinnerFrames[s.frame]), s.label)
	s.clear()
	fmt.Fprint(s.out, line)
	s.last = lipgloss.Width(line)
}

// clear blanks the previous frame. Callers hold mu.
func (s *stageSpinner) clear() {
	if s.last > 0 {
		fmt.Fprint(s.out, "\r"+strings.Repeat(" ", s.last)+"\r")
	}
}

// settle stops the animation and prints the final line for status.
func (s *stageSpinner) settle(status txn.Status) {
	s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()
	symbol, color := statusSymbol(status)
	s.clear()
	fmt.Fprintf(s.out, "%s %s %s\n",
		lipgloss.NewStyle().Foreground(color).Render(symbol),
		s.label,
		lipgloss.NewStyle().Foreground(ColorMuted).Render(formatDuration(time.Since(s.started))))
	s.last = 0
}

func statusSymbol(status txn.Status) (string, lipgloss.Color) {
	switch status {
	case txn.StatusOK:
		return SymbolComplete, ColorSuccess
	case txn.StatusDegraded:
		return SymbolWarning, ColorWarning
	case txn.StatusSkipped:
		return SymbolSkipped, ColorMuted
	case txn.StatusNotRun:
		return SymbolPending, ColorMuted
	default:
		return SymbolFail, ColorError
	}
}

// formatDuration formats a duration for display (e.g., "0.3s", "1.2s").
func formatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 0.1 {
		return fmt.Sprintf("%.2fs", secs)
	}
	return fmt.Sprintf("%.1fs", secs)
}
