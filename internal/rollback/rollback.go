// Package rollback verifies that every host of an environment agrees on
// which release a rollback would remove and restore, and performs that
// rollback.
//
// Callers run VerifyConsistency first, hold the deploy lock, and pass the
// pair every host agreed on to Undo, which re-reads it before changing
// anything.
package rollback

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/releasectl/internal/classify"
	"github.com/rileyhilliard/releasectl/internal/deploy"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/host"
	"github.com/rileyhilliard/releasectl/internal/journal"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/rileyhilliard/releasectl/internal/remote"
)

// VersionUnknown is reported for hosts whose releases carry no version.txt.
const VersionUnknown = "VersionUnknown"

// Options wire a Coordinator.
type Options struct {
	Runner deploy.Runner
	Hosts  deploy.HostResolver

	// Output gets report lines as they are written. May be nil.
	Output io.Writer

	Logger logger.Logger
}

// Coordinator runs verify-rollback and undo-rollback.
type Coordinator struct {
	run   deploy.Runner
	hosts deploy.HostResolver
	out   io.Writer
	log   logger.Logger
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	return &Coordinator{
		run:   opts.Runner,
		hosts: opts.Hosts,
		out:   opts.Output,
		log:   logger.OrDefault(opts.Logger),
	}
}

// Verification is the consistency report of one environment.
type Verification struct {
	Target deploy.Target
	Hosts  []string
	Path   release.Path

	// Dates and Versions are the (current, restorable) pairs read back
	// from the rendered report.
	Dates    map[string]classify.Pair
	Versions map[string]classify.Pair

	// Matches is true when every host reports the same two newest releases.
	Matches bool

	// HostResults holds the listings that failed, if any.
	HostResults remote.Results

	Journal    *journal.Journal
	Classified classify.Result
	Duration   time.Duration
}

// prepare resolves paths and hosts. No remote command runs before it
// returns successfully.
func (c *Coordinator) prepare(op string, t deploy.Target) (release.Path, []string, error) {
	p, err := release.Resolve(t.Application, t.Environment, "")
	if err != nil {
		return release.Path{}, nil, err
	}
	hosts, err := c.hosts.Resolve(t.Environment, t.Hosts)
	if err != nil {
		return release.Path{}, nil, err
	}
	if len(hosts) == 0 {
		return release.Path{}, nil, errors.New(errors.ErrDeployment,
			fmt.Sprintf("No hosts to %s %s on", op, t),
			"Check the --hosts list against the hosts configured for "+t.Environment+".")
	}
	return p, host.Names(hosts), nil
}

// VerifyConsistency lists the two newest live releases and their version
// labels on every host and reports whether all hosts agree.
func (c *Coordinator) VerifyConsistency(ctx context.Context, t deploy.Target) (*Verification, error) {
	start := time.Now()
	p, hosts, err := c.prepare("verify", t)
	if err != nil {
		return nil, err
	}
	v := &Verification{Target: t, Hosts: hosts, Path: p, Journal: journal.New(c.out)}
	v.Journal.Printf("*** verifying rollback of %s on %s", t.Application, t.Environment)

	latest, failed, err := c.latest(ctx, p, hosts, v.Journal)
	if err != nil {
		return nil, err
	}
	v.HostResults = failed

	dates := make(map[string]classify.Pair, len(hosts))
	for _, h := range hosts {
		names := latest[h]
		if len(names) == 2 {
			dates[h] = classify.Pair{Current: names[0], Restorable: names[1]}
		} else {
			dates[h] = classify.Pair{Current: classify.None, Restorable: classify.None}
		}
	}

	versions, err := c.versions(ctx, p, hosts)
	if err != nil {
		return nil, err
	}

	v.Journal.Blank()
	v.Journal.Lines(classify.FormatBlock(classify.DatesHeader, dates)...)
	v.Journal.Lines(classify.FormatBlock(classify.VersionsHeader, versions)...)
	if classify.Consistent(dates) {
		v.Journal.Line(classify.VerifySucceeded + " Deploy times matched.")
	} else {
		v.Journal.Line(classify.VerifyFailed + " Deploy times did not match on all hosts.")
	}

	v.Classified = classify.Lines(v.Journal.Snapshot())
	v.Dates = v.Classified.Dates
	v.Versions = v.Classified.Versions
	v.Matches = v.Classified.Verdict == classify.VerdictSuccess && classify.Consistent(v.Dates)
	v.Duration = time.Since(start)

	c.log.Debug("verify %s: matches=%t", t, v.Matches)
	return v, nil
}

// Err returns nil when the hosts agree, and the DEPLOYMENT_ERROR that
// blocks an undo otherwise.
func (v *Verification) Err() error {
	if v.Matches {
		return nil
	}
	var detail []string
	for _, h := range v.Hosts {
		p := v.Dates[h]
		detail = append(detail, fmt.Sprintf("%s: %s %s", h, p.Current, p.Restorable))
	}
	return errors.New(errors.ErrDeployment,
		fmt.Sprintf("Release consistency check failed for %s", v.Target),
		"Hosts disagree on which release is current and which would be restored ("+
			strings.Join(detail, "; ")+"). Reconcile them by hand before undoing.")
}

// latest returns the two newest live release names per host. Hosts whose
// listing fails are journaled and returned in failed.
func (c *Coordinator) latest(ctx context.Context, p release.Path, hosts []string, j *journal.Journal) (map[string][]string, remote.Results, error) {
	results, err := c.run.Run(ctx, remote.Cmd("ls", "-1", p.Releases), hosts)
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string][]string, len(hosts))
	var failed remote.Results
	for _, h := range hosts {
		r := results[h]
		if !r.OK() {
			if failed == nil {
				failed = remote.Results{}
			}
			failed[h] = r
			j.Printf("***ERROR: %s: %s", h, describe(r))
			continue
		}
		out[h] = release.Latest(r.Stdout, 2)
	}
	return out, failed, nil
}

// versions reads the labels of the two newest live version.txt files per
// host.
func (c *Coordinator) versions(ctx context.Context, p release.Path, hosts []string) (map[string]classify.Pair, error) {
	found, err := c.run.Run(ctx, remote.Cmd("find", p.Releases, "-maxdepth", "3", "-name", "version.txt"), hosts)
	if err != nil {
		return nil, err
	}

	files := make(map[string][]string, len(hosts))
	byFile := make(map[string][]string)
	for _, h := range hosts {
		r := found[h]
		if !r.OK() {
			continue
		}
		var live []string
		for _, f := range r.Stdout {
			f = strings.TrimSpace(f)
			if f == "" || release.IsQuarantined(f) {
				continue
			}
			live = append(live, f)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(live)))
		if len(live) > 2 {
			live = live[:2]
		}
		files[h] = live
		for _, f := range live {
			byFile[f] = append(byFile[f], h)
		}
	}

	labels := make(map[string]map[string]string, len(hosts))
	for _, f := range sortedKeys(byFile) {
		results, err := c.run.Run(ctx, remote.Cmd("cat", f), byFile[f])
		if err != nil {
			return nil, err
		}
		for h, r := range results {
			if !r.OK() {
				continue
			}
			if labels[h] == nil {
				labels[h] = make(map[string]string)
			}
			labels[h][f] = lastLabel(r.Stdout)
		}
	}

	out := make(map[string]classify.Pair, len(hosts))
	for _, h := range hosts {
		r := found[h]
		switch {
		case !r.OK():
			out[h] = classify.Pair{Current: classify.None, Restorable: classify.None}
		case len(files[h]) == 0:
			out[h] = classify.Pair{Current: VersionUnknown, Restorable: VersionUnknown}
		default:
			pair := classify.Pair{Current: labels[h][files[h][0]]}
			if len(files[h]) > 1 {
				pair.Restorable = labels[h][files[h][1]]
			}
			out[h] = pair
		}
	}
	return out, nil
}

// lastLabel returns the last non-empty line of a version file, which is
// appended to on every deploy.
func lastLabel(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return strings.Join(strings.Fields(s), "")
		}
	}
	return ""
}

func describe(r *remote.Result) string {
	if r.Err != nil {
		return strings.TrimPrefix(strings.SplitN(strings.TrimSpace(r.Err.Error()), "\n", 2)[0], "✗ ")
	}
	if len(r.Stderr) > 0 {
		return strings.Join(r.Stderr, " ")
	}
	return fmt.Sprintf("exited %d", r.ExitCode)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
