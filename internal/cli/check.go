package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/host"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/rileyhilliard/releasectl/internal/require"
	"github.com/rileyhilliard/releasectl/internal/ui"
	"github.com/rileyhilliard/releasectl/internal/util"
)

var (
	checkFlags TargetFlags
	checkTools []string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the hosts of an environment have the tools releasectl runs",
	Long: `Look up every executable releasectl may run (git, rsync, ln, sed and the
rest) on each host of the environment. Missing tools exit 5 (DEPS_NOT_MET).

Nothing is changed on the hosts.

Examples:
  releasectl check --app oregontrail --env qa1_na
  releasectl check --app oregontrail --env qa1_na --tool php`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := checkFlags.Target()
		if err != nil {
			return err
		}
		if _, err := release.Resolve(t.Application, t.Environment, ""); err != nil {
			return err
		}
		tools := require.Merge(require.Defaults(), checkTools)
		for _, tool := range checkTools {
			if !require.ValidateToolName(tool) {
				return errors.New(errors.ErrConfig,
					fmt.Sprintf("'%s' is not a valid tool name", tool),
					"Use the bare executable name, like 'php'.")
			}
		}

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		resolved, err := s.resolver.Resolve(t.Environment, t.Hosts)
		if err != nil {
			return err
		}
		hosts := host.Names(resolved)
		if len(hosts) == 0 {
			return errors.New(errors.ErrDeployment,
				fmt.Sprintf("No hosts to check %s on", t),
				"Check the --hosts list against the hosts configured for "+t.Environment+".")
		}

		start := time.Now()
		var report require.Report
		err = s.wait("Looking up tools", func() error {
			var err error
			report, err = require.CheckAll(s.ctx, s.exec, hosts, tools)
			return err
		})
		if err != nil {
			return s.emit("check", nil, nil, err)
		}
		r := newCheckReport(report, tools, time.Since(start))
		return s.emit("check", r, func(w io.Writer) { renderCheck(w, r) }, report.Err())
	},
}

type hostCheckReport struct {
	Host    string                `json:"host" yaml:"host"`
	Missing []string              `json:"missing,omitempty" yaml:"missing,omitempty"`
	Tools   []require.CheckResult `json:"tools" yaml:"tools"`
}

type checkReport struct {
	Tools      []string          `json:"tools" yaml:"tools"`
	Hosts      []hostCheckReport `json:"hosts" yaml:"hosts"`
	DurationMS int64             `json:"duration_ms" yaml:"duration_ms"`
}

func newCheckReport(report require.Report, tools []string, elapsed time.Duration) *checkReport {
	r := &checkReport{Tools: tools, DurationMS: elapsed.Milliseconds()}
	for _, h := range report.Hosts() {
		hr := hostCheckReport{Host: h, Tools: report[h]}
		for _, m := range require.FilterMissing(report[h]) {
			hr.Missing = append(hr.Missing, m.Name)
		}
		r.Hosts = append(r.Hosts, hr)
	}
	return r
}

func renderCheck(w io.Writer, r *checkReport) {
	var rows [][]string
	failing := 0
	for _, h := range r.Hosts {
		status := "ok"
		if len(h.Missing) > 0 {
			status = "failed"
			failing++
		}
		rows = append(rows, []string{h.Host, status, util.JoinOrNone(h.Missing)})
	}
	cols := []ui.TableColumn{{Title: "HOST"}, {Title: "STATUS"}, {Title: "MISSING"}}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(cols, rows), rows))

	elapsed := time.Duration(r.DurationMS) * time.Millisecond
	if failing == 0 {
		fmt.Fprint(w, ui.RenderResult(true, fmt.Sprintf("All %d %s have the %d required tools",
			len(r.Hosts), util.Pluralize(len(r.Hosts), "host", "hosts"), len(r.Tools)), elapsed))
		return
	}
	fmt.Fprint(w, ui.RenderResult(false, fmt.Sprintf("%d %s missing tools", failing,
		util.Pluralize(failing, "host is", "hosts are")), elapsed))
}

func init() {
	AddTargetFlags(checkCmd, &checkFlags, false)
	checkCmd.Flags().StringSliceVar(&checkTools, "tool", nil, "also require this executable (repeatable)")
	rootCmd.AddCommand(checkCmd)
}
