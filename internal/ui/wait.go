package ui

import (
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// waitFrames animate the spinner shown while a read-only fan-out runs.
var waitFrames = spinner.Spinner{
	Frames: []string{"◐", "◓", "◑", "◒"},
	FPS:    time.Second / 10,
}

type waitDoneMsg struct{ err error }

// waitModel shows a labelled spinner until the wrapped call returns.
type waitModel struct {
	spinner spinner.Model
	label   string
	started time.Time

	finished bool
	err      error
}

func newWaitModel(label string) waitModel {
	sp := spinner.New()
	sp.Spinner = waitFrames
	sp.Style = lipgloss.NewStyle().Foreground(ColorSecondary)
	return waitModel{spinner: sp, label: label, started: time.Now()}
}

func (m waitModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case waitDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m waitModel) View() string {
	if !m.finished {
		return m.spinner.View() + " " + m.label + "...\n"
	}
	symbol, color := SymbolComplete, ColorSuccess
	if m.err != nil {
		symbol, color = SymbolFail, ColorError
	}
	return lipgloss.NewStyle().Foreground(color).Render(symbol) + " " + m.label + " " +
		lipgloss.NewStyle().Foreground(ColorMuted).Render(formatDuration(time.Since(m.started))) + "\n"
}

// Wait runs fn while a spinner labelled label animates on out, and returns
// fn's error. The spinner is replaced by a final status line when fn
// returns. Keyboard input is not read, so Ctrl+C reaches the caller's
// signal handling.
func Wait(out io.Writer, label string, fn func() error) error {
	p := tea.NewProgram(newWaitModel(label), tea.WithOutput(out), tea.WithInput(nil))
	done := make(chan error, 1)
	go func() {
		err := fn()
		done <- err
		p.Send(waitDoneMsg{err: err})
	}()

	// A failed renderer must not hide fn's result.
	_, _ = p.Run()
	return <-done
}
