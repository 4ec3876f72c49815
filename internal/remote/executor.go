package remote

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/pkg/sshutil"
	"golang.org/x/sync/errgroup"
)

// Dialer hands out a connected client for a host name.
type Dialer interface {
	Connect(ctx context.Context, host string) (sshutil.SSHClient, error)
}

// Recorder observes every invocation. Implemented by the metrics package.
type Recorder interface {
	ObserveCommand(shape, outcome string, d time.Duration)
}

// Outcome labels passed to Recorder.
const (
	OutcomeOK      = "ok"
	OutcomeExit    = "exit_nonzero"
	OutcomeError   = "error"
	OutcomeDryRun  = "dry_run"
	OutcomeTimeout = "timeout"
)

// Options configure an Executor.
type Options struct {
	// RunAs is the service account commands run as via sudo. Empty runs
	// as the SSH login user.
	RunAs string

	// Timeout bounds each invocation. Zero disables the bound.
	Timeout time.Duration

	// Parallel caps concurrent hosts per fan-out. Zero means unbounded.
	Parallel int

	// DryRun validates and logs commands without sending them.
	DryRun bool

	Logger   logger.Logger
	Recorder Recorder
}

// Invocation records one command sent (or, in dry-run, not sent) to a host.
type Invocation struct {
	Host    string
	Shape   string
	Command string
	DryRun  bool
}

// Executor fans allow-listed commands out to hosts. It never retries.
type Executor struct {
	dialer Dialer
	opts   Options
	log    logger.Logger

	mu      sync.Mutex
	history []Invocation
}

// NewExecutor creates an Executor over dialer.
func NewExecutor(dialer Dialer, opts Options) *Executor {
	return &Executor{
		dialer: dialer,
		opts:   opts,
		log:    logger.OrDefault(opts.Logger),
	}
}

// DryRun reports whether commands are only logged.
func (e *Executor) DryRun() bool {
	return e.opts.DryRun
}

// Invocations returns every invocation so far, in the order they started.
func (e *Executor) Invocations() []Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Invocation(nil), e.history...)
}

// Run executes cmd on every host concurrently and waits for all of them.
// The returned error is only set when cmd is rejected by the allow-list,
// in which case nothing is sent anywhere. Per-host failures are in Results.
func (e *Executor) Run(ctx context.Context, cmd Command, hosts []string) (Results, error) {
	return e.RunLines(ctx, cmd, hosts, nil)
}

// RunLines is Run with each output line passed to handler as it arrives,
// tagged with the host it came from.
func (e *Executor) RunLines(ctx context.Context, cmd Command, hosts []string, handler LineHandler) (Results, error) {
	shape, err := Validate(cmd)
	if err != nil {
		return nil, err
	}
	rendered := Render(cmd, e.opts.RunAs)

	var (
		g         errgroup.Group
		resultsMu sync.Mutex
		handlerMu sync.Mutex
		seen      = make(map[string]bool, len(hosts))
		results   = make(Results, len(hosts))
	)
	if e.opts.Parallel > 0 {
		g.SetLimit(e.opts.Parallel)
	}

	for _, host := range hosts {
		if seen[host] {
			continue
		}
		seen[host] = true

		g.Go(func() error {
			r := e.runOne(ctx, shape, cmd, rendered, host, handler, &handlerMu)
			resultsMu.Lock()
			results[host] = r
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (e *Executor) record(inv Invocation) {
	e.mu.Lock()
	e.history = append(e.history, inv)
	e.mu.Unlock()
}

func (e *Executor) observe(shape, outcome string, d time.Duration) {
	if e.opts.Recorder != nil {
		e.opts.Recorder.ObserveCommand(shape, outcome, d)
	}
}

func (e *Executor) runOne(ctx context.Context, shape Shape, cmd Command, rendered, host string, handler LineHandler, handlerMu *sync.Mutex) *Result {
	e.record(Invocation{Host: host, Shape: shape.Name, Command: rendered, DryRun: e.opts.DryRun})

	r := &Result{Host: host}
	if e.opts.DryRun {
		e.log.Info("[dry-run] %s: %s", host, rendered)
		e.observe(shape.Name, OutcomeDryRun, 0)
		return r
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() { r.Duration = time.Since(start) }()

	client, err := e.dialer.Connect(ctx, host)
	if err != nil {
		r.ExitCode = -1
		r.Err = e.accessError(ctx, host, cmd, err)
		e.observe(shape.Name, OutcomeError, time.Since(start))
		return r
	}

	e.log.Debug("%s: %s", host, rendered)

	stdout := &lineWriter{host: host, stream: Stdout, lines: &r.Stdout, handler: handler, mu: handlerMu}
	stderr := &lineWriter{host: host, stream: Stderr, lines: &r.Stderr, handler: handler, mu: handlerMu}

	var stdin io.Reader
	if len(cmd.Stdin) > 0 {
		stdin = bytes.NewReader(cmd.Stdin)
	}

	code, err := client.ExecStream(ctx, rendered, stdin, stdout, stderr)
	stdout.Flush()
	stderr.Flush()
	r.ExitCode = code

	switch {
	case err != nil:
		r.Err = e.accessError(ctx, host, cmd, err)
		outcome := OutcomeError
		if stderrors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		e.observe(shape.Name, outcome, time.Since(start))
	case code == 127:
		r.Err = missingCommandError(host, cmd, r.Stderr)
		e.observe(shape.Name, OutcomeError, time.Since(start))
	case code != 0:
		e.log.Debug("%s: %s exited %d", host, cmd.Verb, code)
		e.observe(shape.Name, OutcomeExit, time.Since(start))
	default:
		e.observe(shape.Name, OutcomeOK, time.Since(start))
	}

	return r
}

func (e *Executor) accessError(ctx context.Context, host string, cmd Command, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.WrapWithCode(err, errors.ErrRemoteAccess,
			fmt.Sprintf("'%s' timed out after %s", cmd.Verb, e.opts.Timeout),
			"The host may be hung or overloaded. Raise remote.timeout if the command is legitimately slow.").OnHost(host)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.WrapWithCode(err, errors.ErrRemoteAccess,
			fmt.Sprintf("'%s' was cancelled", cmd.Verb), "").OnHost(host)
	}
	if errors.IsCode(err, errors.ErrRemoteAccess) {
		var inner *errors.Error
		if stderrors.As(err, &inner) {
			return inner.OnHost(host)
		}
	}
	return errors.WrapWithCode(err, errors.ErrRemoteAccess,
		fmt.Sprintf("Could not run '%s'", cmd.Verb),
		"Check the host is reachable over SSH.").OnHost(host)
}
