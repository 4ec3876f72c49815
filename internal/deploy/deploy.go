// Package deploy creates releases on a fleet of hosts.
//
// A deploy is an explicit stage list run by txn: the new release is built
// next to the live one and the current symlink is flipped last, so any
// failure before the flip leaves the previous release serving traffic.
package deploy

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rileyhilliard/releasectl/internal/classify"
	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/gitmeta"
	"github.com/rileyhilliard/releasectl/internal/host"
	"github.com/rileyhilliard/releasectl/internal/journal"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/rileyhilliard/releasectl/internal/remote"
	"github.com/rileyhilliard/releasectl/internal/txn"
)

// Stage names, in execution order.
const (
	StageUpdateCode  = "update_code"
	StageLinkShared  = "link_persistent_data"
	StageDebug       = "disable_debug"
	StageVersion     = "write_version"
	StageSymlink     = "symlink"
	StageCleanup     = "cleanup"
	defaultKeepCount = 5
)

// Target is what an operation acts on.
type Target struct {
	Application string
	Environment string

	// Hosts optionally narrows the environment's hosts ("[a, b]").
	Hosts string

	// Ref is the branch or tag to deploy. Empty deploys HEAD.
	Ref string

	// Version is the label recorded in version.txt in testing environments.
	Version string
}

func (t Target) String() string {
	return t.Application + "@" + t.Environment
}

// Runner fans commands out to hosts. Satisfied by *remote.Executor.
type Runner interface {
	Run(ctx context.Context, cmd remote.Command, hosts []string) (remote.Results, error)
	RunLines(ctx context.Context, cmd remote.Command, hosts []string, handler remote.LineHandler) (remote.Results, error)
}

// HostResolver picks the hosts of an operation. Satisfied by *host.Resolver.
type HostResolver interface {
	Resolve(env, explicit string) ([]host.Host, error)
}

// RefResolver turns a branch or tag into a commit. Satisfied by *gitmeta.Reader.
type RefResolver interface {
	ResolveRef(ctx context.Context, app, name string) (gitmeta.Ref, error)
}

// Options wire a Deployer.
type Options struct {
	Config *config.Config
	Runner Runner
	Hosts  HostResolver
	Git    RefResolver

	// Clock stamps release names. Defaults to time.Now.
	Clock release.Clock

	// Stages receives stage callbacks, e.g. the metrics collector.
	Stages txn.StageHandler

	// Output gets journal lines as they are written. May be nil.
	Output io.Writer

	Logger logger.Logger
}

// Deployer runs deploy, setup, clear-cache and test operations.
type Deployer struct {
	cfg    *config.Config
	run    Runner
	hosts  HostResolver
	git    RefResolver
	clock  release.Clock
	stages txn.StageHandler
	out    io.Writer
	log    logger.Logger
}

// New creates a Deployer.
func New(opts Options) *Deployer {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Deployer{
		cfg:    opts.Config,
		run:    opts.Runner,
		hosts:  opts.Hosts,
		git:    opts.Git,
		clock:  clock,
		stages: opts.Stages,
		out:    opts.Output,
		log:    logger.OrDefault(opts.Logger),
	}
}

// Outcome is the structured result of an operation.
type Outcome struct {
	Operation string
	Target    Target
	Hosts     []string
	Path      release.Path

	// Release is the name of the release a deploy created.
	Release string
	Ref     gitmeta.Ref

	Stages        []*txn.StageResult
	Compensations []txn.Compensation

	// HostResults are the per-host results of the step that failed.
	HostResults remote.Results

	Journal    *journal.Journal
	Classified classify.Result

	// Err is nil only when the journal classifies as a success.
	Err      error
	Duration time.Duration
}

// Status returns the status code of the outcome.
func (o *Outcome) Status() string {
	return errors.CodeOf(o.Err)
}

// Success reports whether the operation succeeded.
func (o *Outcome) Success() bool {
	return o.Err == nil
}

// prepare validates target and resolves its hosts and paths. Nothing is
// sent to any host before it returns successfully.
func (d *Deployer) prepare(op string, t Target, name string) (*Outcome, error) {
	p, err := release.Resolve(t.Application, t.Environment, name)
	if err != nil {
		return nil, err
	}
	hosts, err := d.hosts.Resolve(t.Environment, t.Hosts)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, errors.New(errors.ErrDeployment,
			fmt.Sprintf("No hosts to %s %s on", op, t),
			"Check the --hosts list against the hosts configured for "+t.Environment+".")
	}
	return &Outcome{
		Operation: op,
		Target:    t,
		Hosts:     host.Names(hosts),
		Path:      p,
		Release:   name,
		Journal:   journal.New(d.out),
	}, nil
}

// finish writes the closing marker, classifies the journal and settles Err.
func (d *Deployer) finish(o *Outcome, start time.Time, err error) *Outcome {
	o.Duration = time.Since(start)
	if err == nil {
		o.HostResults = nil
		o.Journal.Line(classify.DeploySucceeded)
	} else {
		for _, line := range strings.Split(strings.TrimSpace(err.Error()), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				o.Journal.Printf("***ERROR: %s", line)
			}
		}
		o.Journal.Line(classify.DeployFailed)
	}

	o.Classified = classify.Lines(o.Journal.Snapshot())
	switch {
	case err != nil:
		o.Err = err
	case o.Classified.Outcome != classify.Success:
		o.Err = errors.New(errors.ErrDeployment,
			fmt.Sprintf("%s of %s did not report success", o.Operation, o.Target),
			"Read the operation log for the failing step.")
	}
	return o
}

// step runs cmd on hosts, journaling output, and returns an error naming
// the first failed host. The results are kept on the outcome when it fails.
func (d *Deployer) step(ctx context.Context, o *Outcome, cmd remote.Command, hosts []string, code string) (remote.Results, error) {
	results, err := d.run.RunLines(ctx, cmd, hosts, func(h string, _ remote.Stream, line string) {
		o.Journal.HostLine(h, line)
	})
	if err != nil {
		return nil, err
	}
	if err := results.Error(cmd, code); err != nil {
		o.HostResults = results
		return results, err
	}
	return results, nil
}

// scanned is step with every output line checked for rollback triggers.
// A trigger fails the step even when the command exited zero.
func (d *Deployer) scanned(ctx context.Context, o *Outcome, cmd remote.Command, hosts []string) error {
	var tripped []string
	results, err := d.run.RunLines(ctx, cmd, hosts, func(h string, _ remote.Stream, line string) {
		o.Journal.HostLine(h, line)
		if marker, ok := classify.TriggerIn(line); ok {
			tripped = append(tripped, fmt.Sprintf("%s: %s (%s)", h, line, marker))
		}
	})
	if err != nil {
		return err
	}
	if err := results.Error(cmd, errors.ErrDeployment); err != nil {
		o.HostResults = results
		return err
	}
	if len(tripped) > 0 {
		o.HostResults = results
		return errors.New(errors.ErrDeployment,
			fmt.Sprintf("'%s' reported a failure", cmd),
			strings.Join(tripped, "\n"))
	}
	return nil
}
