// Package txn runs an ordered list of stages as one unit. A fatal stage
// failure unwinds the stages that already ran by calling their
// compensations in reverse order. Soft stages degrade instead of failing.
package txn

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/logger"
)

// ErrSkipped marks a stage that decided it had nothing to do.
var ErrSkipped = stderrors.New("skipped")

// Skip returns an error that marks the stage skipped rather than failed.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}

// Stage is one step of a transaction.
type Stage struct {
	Name string

	// Fatal stages abort the transaction on failure. Soft stages are
	// recorded as degraded and the transaction carries on.
	Fatal bool

	// Commit marks the point of no return. Once a commit stage succeeds
	// the compensations registered so far are dropped.
	Commit bool

	Run func(ctx context.Context) error

	// Compensate undoes Run. It is also called when Run itself fails, so
	// it must tolerate partial work. May be nil.
	Compensate func(ctx context.Context) error
}

// Status is the outcome of a single stage.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusDegraded Status = "degraded"
	StatusSkipped  Status = "skipped"
	StatusNotRun   Status = "not_run"
)

// StageResult records how a stage went.
type StageResult struct {
	Name     string
	Status   Status
	Err      error
	Duration time.Duration
}

// Compensation records one compensating action.
type Compensation struct {
	Stage string
	Err   error
}

// Result is the outcome of a transaction.
type Result struct {
	Stages []*StageResult

	// FailedStage is the index of the fatal stage that failed (-1 if none).
	FailedStage int

	// Err is the error of the failed fatal stage.
	Err error

	Compensations []Compensation

	Duration time.Duration
}

// Success reports whether no fatal stage failed.
func (r *Result) Success() bool {
	return r.FailedStage == -1
}

// Degraded returns the names of soft stages that failed.
func (r *Result) Degraded() []string {
	var names []string
	for _, s := range r.Stages {
		if s.Status == StatusDegraded {
			names = append(names, s.Name)
		}
	}
	return names
}

// StageHandler receives callbacks during a run.
type StageHandler interface {
	OnStageStart(num, total int, name string)
	OnStageComplete(num, total int, result *StageResult)
	OnCompensate(stage string, err error)
}

// Runner executes stage lists.
type Runner struct {
	handler StageHandler
	log     logger.Logger
}

// NewRunner creates a runner. handler may be nil.
func NewRunner(handler StageHandler, log logger.Logger) *Runner {
	return &Runner{handler: handler, log: logger.OrDefault(log)}
}

// Run executes stages strictly in order. A stage starts only after the
// previous one returned. Cancellation is honored at stage boundaries.
func (r *Runner) Run(ctx context.Context, stages []Stage) *Result {
	start := time.Now()
	res := &Result{FailedStage: -1}
	for _, s := range stages {
		res.Stages = append(res.Stages, &StageResult{Name: s.Name, Status: StatusNotRun})
	}

	var undo []Stage
	for i, s := range stages {
		sr := res.Stages[i]

		if err := ctx.Err(); err != nil {
			sr.Status = StatusFailed
			sr.Err = errors.WrapWithCode(err, errors.ErrDeployment,
				fmt.Sprintf("Stopped before %s", s.Name), "")
			res.FailedStage = i
			res.Err = sr.Err
			break
		}

		if r.handler != nil {
			r.handler.OnStageStart(i+1, len(stages), s.Name)
		}

		stageStart := time.Now()
		err := s.Run(ctx)
		sr.Duration = time.Since(stageStart)

		if s.Compensate != nil {
			undo = append(undo, s)
		}

		switch {
		case err == nil:
			sr.Status = StatusOK
			if s.Commit {
				undo = nil
			}
		case stderrors.Is(err, ErrSkipped):
			sr.Status = StatusSkipped
			r.log.Debug("%s skipped: %v", s.Name, err)
		case !s.Fatal:
			sr.Status = StatusDegraded
			sr.Err = err
			r.log.Warn("%s failed, continuing: %v", s.Name, err)
		default:
			sr.Status = StatusFailed
			sr.Err = err
			res.FailedStage = i
			res.Err = err
		}

		if r.handler != nil {
			r.handler.OnStageComplete(i+1, len(stages), sr)
		}
		if res.FailedStage >= 0 {
			break
		}
	}

	if res.FailedStage >= 0 {
		res.Compensations = r.compensate(context.WithoutCancel(ctx), undo)
	}

	res.Duration = time.Since(start)
	return res
}

func (r *Runner) compensate(ctx context.Context, undo []Stage) []Compensation {
	var out []Compensation
	for i := len(undo) - 1; i >= 0; i-- {
		s := undo[i]
		err := s.Compensate(ctx)
		if err != nil {
			r.log.Error("compensating %s failed: %v", s.Name, err)
		}
		out = append(out, Compensation{Stage: s.Name, Err: err})
		if r.handler != nil {
			r.handler.OnCompensate(s.Name, err)
		}
	}
	return out
}

// Handlers fans callbacks out to several handlers. Nil entries are skipped.
type Handlers []StageHandler

func (hs Handlers) OnStageStart(num, total int, name string) {
	for _, h := range hs {
		if h != nil {
			h.OnStageStart(num, total, name)
		}
	}
}

func (hs Handlers) OnStageComplete(num, total int, result *StageResult) {
	for _, h := range hs {
		if h != nil {
			h.OnStageComplete(num, total, result)
		}
	}
}

func (hs Handlers) OnCompensate(stage string, err error) {
	for _, h := range hs {
		if h != nil {
			h.OnCompensate(stage, err)
		}
	}
}
