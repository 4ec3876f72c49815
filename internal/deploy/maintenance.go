package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/remote"
)

// Setup creates the releases and shared directories of target on every
// host and opens them to the web group.
func (d *Deployer) Setup(ctx context.Context, t Target) (*Outcome, error) {
	start := time.Now()
	o, err := d.prepare("setup", t, "")
	if err != nil {
		return nil, err
	}
	p := o.Path
	o.Journal.Printf("*** setting up %s on %s", p.DeployTo, strings.Join(o.Hosts, ", "))

	cmds := []remote.Command{
		remote.Cmd("mkdir", "-p", p.Releases),
		remote.Cmd("mkdir", "-p", p.Shared),
		remote.Cmd("mkdir", "-p", p.InShared("config")),
		remote.Cmd("mkdir", "-p", p.InShared("media")),
	}
	if group := d.cfg.Remote.WebGroup; group != "" {
		cmds = append(cmds,
			remote.Cmd("chgrp", group, p.Releases),
			remote.Cmd("chgrp", group, p.Shared))
	}
	cmds = append(cmds,
		remote.Cmd("chmod", "g+rwx", p.Releases),
		remote.Cmd("chmod", "g+rwx", p.Shared))

	for _, cmd := range cmds {
		if _, err := d.step(ctx, o, cmd, o.Hosts, errors.ErrDeployment); err != nil {
			return d.fail(o, start, err)
		}
	}
	d.finish(o, start, nil)
	return o, nil
}

// ClearCache removes the shared git working copy so the next deploy clones
// afresh.
func (d *Deployer) ClearCache(ctx context.Context, t Target) (*Outcome, error) {
	start := time.Now()
	o, err := d.prepare("clear-cache", t, "")
	if err != nil {
		return nil, err
	}
	o.Journal.Printf("*** removing %s", o.Path.CachedCopy())

	if _, err := d.step(ctx, o, remote.Cmd("rm", "-rf", o.Path.CachedCopy()), o.Hosts, errors.ErrDeployment); err != nil {
		return d.fail(o, start, err)
	}
	d.finish(o, start, nil)
	return o, nil
}

// Test checks that every host accepts and runs a command. A host that
// can't be reached is TESTING_ERROR; one that runs the probe but fails it
// is TESTING_FAILURE.
func (d *Deployer) Test(ctx context.Context, t Target) (*Outcome, error) {
	start := time.Now()
	o, err := d.prepare("test", t, "")
	if err != nil {
		return nil, err
	}

	probe := remote.Cmd("true")
	results, err := d.run.Run(ctx, probe, o.Hosts)
	if err != nil {
		return d.fail(o, start, err)
	}

	var unreachable, failing []string
	for _, h := range o.Hosts {
		r := results[h]
		switch {
		case r.Err != nil:
			unreachable = append(unreachable, h)
			o.Journal.Printf("  %s: unreachable: %s", h, firstLine(r.Err))
		case r.ExitCode != 0:
			failing = append(failing, h)
			o.Journal.Printf("  %s: probe exited %d", h, r.ExitCode)
		default:
			o.Journal.Printf("  %s: ok (%s)", h, r.Duration.Round(time.Millisecond))
		}
	}

	switch {
	case len(unreachable) > 0:
		o.HostResults = results
		return d.fail(o, start, errors.WrapWithCode(results.FirstErr(), errors.ErrTesting,
			fmt.Sprintf("%d of %d hosts could not run the probe: %s", len(unreachable), len(o.Hosts), strings.Join(unreachable, ", ")),
			"Check SSH access and the sudo rule for the service account."))
	case len(failing) > 0:
		o.HostResults = results
		return d.fail(o, start, errors.New(errors.ErrTestingFailure,
			fmt.Sprintf("%d of %d hosts failed the probe: %s", len(failing), len(o.Hosts), strings.Join(failing, ", ")),
			"The hosts are reachable but the command did not succeed; check the service account's shell."))
	}
	d.finish(o, start, nil)
	return o, nil
}

func (d *Deployer) fail(o *Outcome, start time.Time, err error) (*Outcome, error) {
	d.finish(o, start, err)
	return o, o.Err
}
