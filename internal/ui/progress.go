package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/releasectl/internal/txn"
)

// StageProgress draws one spinner line per deploy stage. It implements
// txn.StageHandler and is meant for an interactive terminal.
type StageProgress struct {
	mu      sync.Mutex
	out     io.Writer
	current *stageSpinner
}

// NewStageProgress creates a StageProgress writing to out.
func NewStageProgress(out io.Writer) *StageProgress {
	return &StageProgress{out: out}
}

// OnStageStart starts a spinner labelled with the stage position.
func (p *StageProgress) OnStageStart(num, total int, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.halt()
	}
	p.current = startStageSpinner(p.out, fmt.Sprintf("[%d/%d] %s", num, total, name))
}

// OnStageComplete settles the running spinner.
func (p *StageProgress) OnStageComplete(_, _ int, result *txn.StageResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.current
	p.current = nil
	if s == nil {
		return
	}
	s.settle(result.Status)
}

// OnCompensate prints one line per compensating action.
func (p *StageProgress) OnCompensate(stage string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	style := lipgloss.NewStyle().Foreground(ColorWarning)
	line := fmt.Sprintf("  %s undo %s", style.Render(SymbolUndo), stage)
	if err != nil {
		line += " " + lipgloss.NewStyle().Foreground(ColorError).Render(err.Error())
	}
	fmt.Fprintln(p.out, line)
}
