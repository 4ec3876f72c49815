package require

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/remote"
	"github.com/rileyhilliard/releasectl/internal/util"
)

// Runner runs a command on a set of hosts. Satisfied by *remote.Executor.
type Runner interface {
	Run(ctx context.Context, cmd remote.Command, hosts []string) (remote.Results, error)
}

// Report holds the check results of every host, in tool order.
type Report map[string][]CheckResult

// CheckAll looks every tool up on every host with `which`. One command per
// tool fans out across the hosts. Missing tools are recorded as
// unsatisfied, not returned as errors; an error means a host could not be
// asked at all.
func CheckAll(ctx context.Context, run Runner, hosts, tools []string) (Report, error) {
	for _, tool := range tools {
		if !ValidateToolName(tool) {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("'%s' is not a valid tool name", tool),
				"Use the bare executable name, like 'rsync'.")
		}
	}

	report := make(Report, len(hosts))
	for _, tool := range tools {
		results, err := run.Run(ctx, remote.Cmd("which", tool), hosts)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			r := results[h]
			if r == nil {
				continue
			}
			if r.Err != nil && !errors.IsCode(r.Err, errors.ErrDepsNotMet) {
				return report, r.Err
			}
			res := CheckResult{Name: tool, Satisfied: r.Err == nil && r.ExitCode == 0}
			if res.Satisfied {
				res.Path = strings.TrimSpace(r.Output())
			}
			report[h] = append(report[h], res)
		}
	}
	return report, nil
}

// Hosts returns the host names of the report, sorted.
func (r Report) Hosts() []string {
	hosts := make([]string, 0, len(r))
	for h := range r {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Err returns DEPS_NOT_MET naming every host with missing tools, or nil.
func (r Report) Err() error {
	var lines []string
	for _, h := range r.Hosts() {
		if missing := FilterMissing(r[h]); len(missing) > 0 {
			lines = append(lines, h+": "+FormatMissing(missing))
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return errors.New(errors.ErrDepsNotMet,
		fmt.Sprintf("Required tools are missing on %d %s", len(lines), util.Pluralize(len(lines), "host", "hosts")),
		"Install them or fix the PATH of the deploy account: "+strings.Join(lines, "; "))
}

// FilterMissing returns only the unsatisfied requirements.
func FilterMissing(results []CheckResult) []CheckResult {
	var missing []CheckResult
	for _, r := range results {
		if !r.Satisfied {
			missing = append(missing, r)
		}
	}
	return missing
}

// FormatMissing creates a human-readable list of missing requirements.
func FormatMissing(missing []CheckResult) string {
	var parts []string
	for _, m := range missing {
		parts = append(parts, m.Name)
	}
	return strings.Join(parts, ", ")
}
