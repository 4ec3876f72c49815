package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/releasectl/internal/classify"
	"github.com/rileyhilliard/releasectl/internal/deploy"
	"github.com/rileyhilliard/releasectl/internal/remote"
	"github.com/rileyhilliard/releasectl/internal/rollback"
	"github.com/rileyhilliard/releasectl/internal/ui"
)

type stageReport struct {
	Name       string `json:"name" yaml:"name"`
	Status     string `json:"status" yaml:"status"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

type compensationReport struct {
	Stage string `json:"stage" yaml:"stage"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

type hostReport struct {
	Host     string   `json:"host" yaml:"host"`
	Status   string   `json:"status" yaml:"status"`
	ExitCode int      `json:"exit_code" yaml:"exit_code"`
	Stderr   []string `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
}

type refReport struct {
	Kind string `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`
	Full string `json:"full" yaml:"full"`
	Hash string `json:"hash" yaml:"hash"`
}

// operationReport is the machine-readable form of a deploy.Outcome.
type operationReport struct {
	ID            string               `json:"id" yaml:"id"`
	Operation     string               `json:"operation" yaml:"operation"`
	Application   string               `json:"application" yaml:"application"`
	Environment   string               `json:"environment" yaml:"environment"`
	Hosts         []string             `json:"hosts" yaml:"hosts"`
	DeployTo      string               `json:"deploy_to" yaml:"deploy_to"`
	Release       string               `json:"release,omitempty" yaml:"release,omitempty"`
	Ref           *refReport           `json:"ref,omitempty" yaml:"ref,omitempty"`
	Status        string               `json:"status" yaml:"status"`
	Stages        []stageReport        `json:"stages,omitempty" yaml:"stages,omitempty"`
	Compensations []compensationReport `json:"compensations,omitempty" yaml:"compensations,omitempty"`
	HostResults   []hostReport         `json:"host_results,omitempty" yaml:"host_results,omitempty"`
	DryRun        bool                 `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Commands      []string             `json:"commands,omitempty" yaml:"commands,omitempty"`
	DurationMS    int64                `json:"duration_ms" yaml:"duration_ms"`
	Log           []string             `json:"log" yaml:"log"`
	LogFile       string               `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

func newOperationReport(o *deploy.Outcome) *operationReport {
	r := &operationReport{
		ID:          o.Journal.ID(),
		Operation:   o.Operation,
		Application: o.Target.Application,
		Environment: o.Target.Environment,
		Hosts:       o.Hosts,
		DeployTo:    o.Path.DeployTo,
		Release:     o.Release,
		Status:      o.Status(),
		HostResults: hostReports(o.HostResults),
		DurationMS:  o.Duration.Milliseconds(),
		Log:         o.Journal.Snapshot(),
	}
	if o.Ref.Hash != "" {
		r.Ref = &refReport{Kind: string(o.Ref.Kind), Name: o.Ref.Name, Full: o.Ref.Full, Hash: o.Ref.Hash}
	}
	for _, s := range o.Stages {
		sr := stageReport{Name: s.Name, Status: string(s.Status), DurationMS: s.Duration.Milliseconds()}
		if s.Err != nil {
			sr.Error = firstLine(s.Err.Error())
		}
		r.Stages = append(r.Stages, sr)
	}
	for _, c := range o.Compensations {
		cr := compensationReport{Stage: c.Stage}
		if c.Err != nil {
			cr.Error = firstLine(c.Err.Error())
		}
		r.Compensations = append(r.Compensations, cr)
	}
	return r
}

func hostReports(results remote.Results) []hostReport {
	var out []hostReport
	for _, h := range results.Hosts() {
		res := results[h]
		hr := hostReport{Host: h, ExitCode: res.ExitCode, Stderr: res.Stderr, Status: "ok"}
		switch {
		case res.Err != nil:
			hr.Status = "unreachable"
			hr.Error = firstLine(res.Err.Error())
		case res.ExitCode != 0:
			hr.Status = "failed"
		}
		out = append(out, hr)
	}
	return out
}

// withInvocations adds the commands a dry run would have sent.
func (r *operationReport) withInvocations(exec *remote.Executor) *operationReport {
	if !exec.DryRun() {
		return r
	}
	r.DryRun = true
	r.Commands = invocationLines(exec)
	return r
}

func invocationLines(exec *remote.Executor) []string {
	var lines []string
	for _, inv := range exec.Invocations() {
		lines = append(lines, inv.Host+": "+inv.Command)
	}
	return lines
}

// renderOperation writes the text summary of a deploy, setup, clear-cache
// or test run.
func renderOperation(w io.Writer, r *operationReport, showStages bool) {
	if len(r.Commands) > 0 {
		fmt.Fprintln(w, lipgloss.NewStyle().Bold(true).Render("Commands (dry run, nothing was sent):"))
		for _, c := range r.Commands {
			fmt.Fprintln(w, "  "+c)
		}
		fmt.Fprintln(w)
	}

	if showStages && len(r.Stages) > 0 {
		var rows []ui.StageRow
		for _, s := range r.Stages {
			rows = append(rows, ui.StageRow{
				Name:     s.Name,
				Status:   s.Status,
				Duration: time.Duration(s.DurationMS) * time.Millisecond,
				Detail:   s.Error,
			})
		}
		fmt.Fprint(w, ui.RenderStages(rows))
	}
	for _, c := range r.Compensations {
		line := fmt.Sprintf("  %s undid %s", ui.SymbolUndo, c.Stage)
		if c.Error != "" {
			line += ": " + c.Error
		}
		fmt.Fprintln(w, line)
	}

	if len(r.HostResults) > 0 {
		var rows [][]string
		for _, h := range r.HostResults {
			detail := h.Error
			if detail == "" {
				detail = strings.Join(h.Stderr, " ")
			}
			rows = append(rows, []string{h.Host, h.Status, fmt.Sprint(h.ExitCode), detail})
		}
		cols := []ui.TableColumn{{Title: "HOST"}, {Title: "STATUS"}, {Title: "EXIT"}, {Title: "DETAIL"}}
		fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(cols, rows), rows))
	}

	ok := r.Status == "OK"
	msg := fmt.Sprintf("%s %s on %s", r.Operation, target(r.Application, r.Environment), strings.Join(r.Hosts, ", "))
	switch {
	case ok && r.Release != "":
		msg = fmt.Sprintf("Deployed %s as %s to %s", r.Application, r.Release, strings.Join(r.Hosts, ", "))
	case ok:
		msg += " succeeded"
	default:
		msg += " failed (" + r.Status + ")"
	}
	if r.DryRun {
		msg += " (dry run)"
	}
	fmt.Fprint(w, ui.RenderResult(ok, msg, time.Duration(r.DurationMS)*time.Millisecond))
	if r.LogFile != "" {
		fmt.Fprintln(w, lipgloss.NewStyle().Foreground(ui.ColorMuted).Render("Log: "+r.LogFile))
	}
}

// verifyReport is the machine-readable form of a rollback.Verification.
type verifyReport struct {
	ID          string                `json:"id" yaml:"id"`
	Application string                `json:"application" yaml:"application"`
	Environment string                `json:"environment" yaml:"environment"`
	Hosts       []string              `json:"hosts" yaml:"hosts"`
	Matches     bool                  `json:"matches" yaml:"matches"`
	Dates       map[string]pairReport `json:"dates" yaml:"dates"`
	Versions    map[string]pairReport `json:"versions" yaml:"versions"`
	HostResults []hostReport          `json:"host_results,omitempty" yaml:"host_results,omitempty"`
	DurationMS  int64                 `json:"duration_ms" yaml:"duration_ms"`
	Log         []string              `json:"log" yaml:"log"`
}

// pairReport is one host's entry in the dates or versions block.
type pairReport struct {
	Current    string `json:"current" yaml:"current"`
	Restorable string `json:"restorable" yaml:"restorable"`
}

func pairReports(pairs map[string]classify.Pair) map[string]pairReport {
	out := make(map[string]pairReport, len(pairs))
	for h, p := range pairs {
		out[h] = pairReport{Current: p.Current, Restorable: p.Restorable}
	}
	return out
}

func newVerifyReport(v *rollback.Verification) *verifyReport {
	return &verifyReport{
		ID:          v.Journal.ID(),
		Application: v.Target.Application,
		Environment: v.Target.Environment,
		Hosts:       v.Hosts,
		Matches:     v.Matches,
		Dates:       pairReports(v.Dates),
		Versions:    pairReports(v.Versions),
		HostResults: hostReports(v.HostResults),
		DurationMS:  v.Duration.Milliseconds(),
		Log:         v.Journal.Snapshot(),
	}
}

func renderVerification(w io.Writer, r *verifyReport) {
	var rows [][]string
	for _, h := range r.Hosts {
		d, v := r.Dates[h], r.Versions[h]
		rows = append(rows, []string{h, orNone(d.Current), orNone(v.Current), orNone(d.Restorable), orNone(v.Restorable)})
	}
	cols := []ui.TableColumn{
		{Title: "HOST"}, {Title: "CURRENT"}, {Title: "VERSION"}, {Title: "RESTORABLE"}, {Title: "VERSION"},
	}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(cols, rows), rows))

	elapsed := time.Duration(r.DurationMS) * time.Millisecond
	if r.Matches {
		fmt.Fprint(w, ui.RenderResult(true, fmt.Sprintf("All %d hosts agree; undo-rollback would restore %s",
			len(r.Hosts), r.Dates[r.Hosts[0]].Restorable), elapsed))
		return
	}
	fmt.Fprint(w, ui.RenderResult(false, "Hosts disagree on the releases a rollback would touch", elapsed))
}

// undoReport is the machine-readable form of a rollback.UndoResult.
type undoReport struct {
	ID          string           `json:"id" yaml:"id"`
	Application string           `json:"application" yaml:"application"`
	Environment string           `json:"environment" yaml:"environment"`
	Hosts       []string         `json:"hosts" yaml:"hosts"`
	Status      string           `json:"status" yaml:"status"`
	PerHost     []hostUndoReport `json:"per_host" yaml:"per_host"`
	Commands    []string         `json:"commands,omitempty" yaml:"commands,omitempty"`
	DurationMS  int64            `json:"duration_ms" yaml:"duration_ms"`
	Log         []string         `json:"log" yaml:"log"`
	LogFile     string           `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

type hostUndoReport struct {
	Host       string `json:"host" yaml:"host"`
	Removed    string `json:"removed,omitempty" yaml:"removed,omitempty"`
	Restored   string `json:"restored,omitempty" yaml:"restored,omitempty"`
	Completed  int    `json:"completed_steps" yaml:"completed_steps"`
	FailedStep string `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newUndoReport(u *rollback.UndoResult) *undoReport {
	r := &undoReport{
		ID:          u.Journal.ID(),
		Application: u.Target.Application,
		Environment: u.Target.Environment,
		Hosts:       u.Hosts,
		Status:      string(u.Status),
		DurationMS:  u.Duration.Milliseconds(),
		Log:         u.Journal.Snapshot(),
	}
	for _, h := range u.Hosts {
		hu := u.PerHost[h]
		hr := hostUndoReport{
			Host:       h,
			Removed:    hu.Deletable,
			Restored:   hu.Restorable,
			Completed:  hu.Completed,
			FailedStep: hu.FailedStep,
		}
		if hu.Err != nil {
			hr.Error = firstLine(hu.Err.Error())
		}
		r.PerHost = append(r.PerHost, hr)
	}
	return r
}

func renderUndo(w io.Writer, r *undoReport) {
	if len(r.Commands) > 0 {
		fmt.Fprintln(w, lipgloss.NewStyle().Bold(true).Render("Commands (dry run, nothing was sent):"))
		for _, c := range r.Commands {
			fmt.Fprintln(w, "  "+c)
		}
		fmt.Fprintln(w)
	}

	var rows [][]string
	for _, h := range r.PerHost {
		status := "ok"
		if h.FailedStep != "" {
			status = "failed at " + h.FailedStep
		}
		rows = append(rows, []string{h.Host, orNone(h.Removed), orNone(h.Restored), status, h.Error})
	}
	cols := []ui.TableColumn{{Title: "HOST"}, {Title: "REMOVED"}, {Title: "RESTORED"}, {Title: "STATUS"}, {Title: "DETAIL"}}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(cols, rows), rows))

	elapsed := time.Duration(r.DurationMS) * time.Millisecond
	switch rollback.Status(r.Status) {
	case rollback.Succeeded:
		fmt.Fprint(w, ui.RenderResult(true, fmt.Sprintf("Rolled back %s on %d hosts", target(r.Application, r.Environment), len(r.Hosts)), elapsed))
	case rollback.Partial:
		fmt.Fprint(w, ui.RenderResult(false, "Rollback only partly applied; hosts need manual reconciliation", elapsed))
	default:
		fmt.Fprint(w, ui.RenderResult(false, "Rollback failed; no host was changed", elapsed))
	}
	if r.LogFile != "" {
		fmt.Fprintln(w, lipgloss.NewStyle().Foreground(ui.ColorMuted).Render("Log: "+r.LogFile))
	}
}

func target(app, env string) string {
	return app + "@" + env
}

func orNone(s string) string {
	if s == "" {
		return classify.None
	}
	return s
}

func firstLine(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "✗ ")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
