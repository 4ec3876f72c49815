package rollback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/releasectl/internal/classify"
	"github.com/rileyhilliard/releasectl/internal/deploy"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/journal"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/rileyhilliard/releasectl/internal/remote"
)

// Status is the fleet-wide outcome of an undo.
type Status string

const (
	// Succeeded means every host restored its previous release.
	Succeeded Status = "succeeded"

	// Failed means no host was changed.
	Failed Status = "failed"

	// Partial means some hosts changed and others did not; the fleet
	// needs manual reconciliation.
	Partial Status = "partial"
)

// Undo steps, in order.
const (
	StepCapture    = "capture"
	StepUnlink     = "unlink_current"
	StepRelink     = "link_restorable"
	StepQuarantine = "quarantine"
)

// HostUndo is what an undo did on one host.
type HostUndo struct {
	Host       string
	Deletable  string
	Restorable string

	// Completed counts the steps that went through.
	Completed int

	// FailedStep and Err are set when the host dropped out.
	FailedStep string
	Err        error
}

// Done reports whether every step went through on the host.
func (h *HostUndo) Done() bool {
	return h.Err == nil && h.Completed == 3
}

// Changed reports whether anything on the host was modified.
func (h *HostUndo) Changed() bool {
	return h.Completed > 0
}

// UndoResult is the outcome of an undo, per host and overall.
type UndoResult struct {
	Target deploy.Target
	Hosts  []string
	Path   release.Path
	Status Status

	PerHost map[string]*HostUndo

	// Drifted lists hosts whose releases no longer matched the verified
	// pair. The undo is abandoned on every host when it is non-empty.
	Drifted []string

	Journal    *journal.Journal
	Classified classify.Result

	// Err is nil only when Status is Succeeded.
	Err      error
	Duration time.Duration
}

// Undo makes the previous release current again on every host and
// quarantines the newest one so later listings skip it.
//
// want is the (deletable, restorable) pair every host reported when the
// environment was last verified. The pairs are read again before anything
// moves, and when any host no longer reports want no host is changed.
//
// Past that point each host goes through the steps independently: a host
// whose command fails or writes to stderr drops out of the remaining steps
// while the others carry on. The result says which hosts got where.
func (c *Coordinator) Undo(ctx context.Context, t deploy.Target, want classify.Pair) (*UndoResult, error) {
	start := time.Now()
	p, hosts, err := c.prepare("undo", t)
	if err != nil {
		return nil, err
	}
	res := &UndoResult{
		Target:  t,
		Hosts:   hosts,
		Path:    p,
		PerHost: make(map[string]*HostUndo, len(hosts)),
		Journal: journal.New(c.out),
	}
	j := res.Journal
	j.Printf("*** undoing the last deployment of %s on %s", t.Application, t.Environment)

	// Capture the pairs before anything moves.
	latest, failed, err := c.latest(ctx, p, hosts, j)
	if err != nil {
		return nil, err
	}
	var active, drifted []string
	for _, h := range hosts {
		hu := &HostUndo{Host: h}
		res.PerHost[h] = hu
		switch names := latest[h]; {
		case failed[h] != nil:
			hu.FailedStep = StepCapture
			hu.Err = failed[h].Err
			if hu.Err == nil {
				hu.Err = errors.New(errors.ErrDeployment, "Could not list releases", describe(failed[h])).OnHost(h)
			}
		case len(names) < 2:
			hu.FailedStep = StepCapture
			hu.Err = errors.New(errors.ErrDeployment,
				fmt.Sprintf("%d live release(s) in %s, nothing to restore", len(names), p.Releases), "").OnHost(h)
		default:
			hu.Deletable, hu.Restorable = names[0], names[1]
			if (classify.Pair{Current: hu.Deletable, Restorable: hu.Restorable}) != want {
				hu.FailedStep = StepCapture
				hu.Err = errors.New(errors.ErrDeployment,
					fmt.Sprintf("Releases changed since verification: found %s %s, verified %s %s",
						hu.Deletable, hu.Restorable, want.Current, want.Restorable), "").OnHost(h)
				drifted = append(drifted, h)
				continue
			}
			active = append(active, h)
		}
	}
	if len(drifted) > 0 {
		for _, h := range active {
			hu := res.PerHost[h]
			hu.FailedStep = StepCapture
			hu.Err = errors.New(errors.ErrDeployment,
				"Skipped, releases changed on "+strings.Join(drifted, ", "), "").OnHost(h)
		}
		active = nil
		res.Drifted = drifted
	}

	j.Blank()
	j.Line("Undoing the following deployments:")
	for _, h := range hosts {
		j.Printf("  %s: %s", h, orNone(res.PerHost[h].Deletable))
	}
	j.Blank()
	j.Line("Restoring the following deployments:")
	for _, h := range hosts {
		j.Printf("  %s: %s", h, orNone(res.PerHost[h].Restorable))
	}
	j.Blank()

	steps := []struct {
		name string
		cmd  func(hu *HostUndo) remote.Command
	}{
		{StepUnlink, func(*HostUndo) remote.Command {
			return remote.Cmd("rm", "-f", p.Current)
		}},
		{StepRelink, func(hu *HostUndo) remote.Command {
			return remote.Cmd("ln", "-nsf", p.ReleaseDir(hu.Restorable), p.Current)
		}},
		{StepQuarantine, func(hu *HostUndo) remote.Command {
			return remote.Cmd("mv", p.ReleaseDir(hu.Deletable), p.ReleaseDir(release.Quarantine(hu.Deletable)))
		}},
	}
	for _, step := range steps {
		if len(active) == 0 {
			break
		}
		active, err = c.undoStep(ctx, res, step.name, active, step.cmd)
		if err != nil {
			return nil, err
		}
	}

	c.settle(res)
	res.Duration = time.Since(start)
	return res, res.Err
}

// undoStep runs one step on the active hosts, grouping hosts that need the
// same command, and returns the hosts that are still active afterwards.
func (c *Coordinator) undoStep(ctx context.Context, res *UndoResult, name string, active []string, build func(*HostUndo) remote.Command) ([]string, error) {
	groups := make(map[string][]string)
	cmds := make(map[string]remote.Command)
	for _, h := range active {
		cmd := build(res.PerHost[h])
		key := cmd.String()
		groups[key] = append(groups[key], h)
		cmds[key] = cmd
	}

	var still []string
	for _, key := range sortedKeys(groups) {
		results, err := c.run.RunLines(ctx, cmds[key], groups[key], func(h string, stream remote.Stream, line string) {
			if stream == remote.Stderr {
				res.Journal.HostLine(h, line)
			}
		})
		if err != nil {
			return nil, err
		}
		for _, h := range groups[key] {
			hu, r := res.PerHost[h], results[h]
			if r.Clean() {
				hu.Completed++
				still = append(still, h)
				continue
			}
			hu.FailedStep = name
			hu.Err = r.Err
			if hu.Err == nil {
				hu.Err = errors.New(errors.ErrDeployment,
					fmt.Sprintf("'%s' failed: %s", cmds[key], describe(r)), "").OnHost(h)
			}
			c.log.Warn("%s: undo stopped at %s: %s", h, name, describe(r))
		}
	}
	return orderLike(res.Hosts, still), nil
}

// settle decides the overall status and writes the closing report.
func (c *Coordinator) settle(res *UndoResult) {
	var done, changed int
	var broken []string
	for _, h := range res.Hosts {
		hu := res.PerHost[h]
		if hu.Done() {
			done++
		} else {
			broken = append(broken, h)
		}
		if hu.Changed() {
			changed++
		}
	}

	j := res.Journal
	switch {
	case done == len(res.Hosts):
		res.Status = Succeeded
		j.Line(classify.RollbackSucceeded)
	case changed == 0:
		res.Status = Failed
	default:
		res.Status = Partial
	}

	if res.Status != Succeeded {
		j.Line(classify.ErrorMarker + ":")
		for _, h := range broken {
			hu := res.PerHost[h]
			j.Printf("  %s: %s after %d of 3 steps: %s", h, hu.FailedStep, hu.Completed, firstLine(hu.Err))
		}
	}
	res.Classified = classify.Lines(j.Snapshot())

	switch res.Status {
	case Failed:
		if len(res.Drifted) > 0 {
			res.Err = errors.New(errors.ErrDeployment,
				fmt.Sprintf("Releases of %s changed on %s since they were verified", res.Target, strings.Join(res.Drifted, ", ")),
				"No host was changed. Run verify-rollback again before undoing.")
			break
		}
		res.Err = errors.New(errors.ErrDeployment,
			fmt.Sprintf("Rollback of %s failed on every host", res.Target),
			"No host was changed; the current release is still live everywhere.")
	case Partial:
		res.Err = errors.New(errors.ErrDeployment,
			fmt.Sprintf("Rollback of %s only completed on %d of %d hosts", res.Target, done, len(res.Hosts)),
			"Hosts are now in different states and need manual reconciliation: check "+
				res.Path.Current+" and the *"+release.QuarantineSuffix+" releases on "+strings.Join(broken, ", ")+".")
	}
}

func orderLike(order, hosts []string) []string {
	in := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		in[h] = true
	}
	var out []string
	for _, h := range order {
		if in[h] {
			out = append(out, h)
		}
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return classify.None
	}
	return s
}

func firstLine(err error) string {
	if err == nil {
		return ""
	}
	s := strings.TrimPrefix(strings.TrimSpace(err.Error()), "✗ ")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
