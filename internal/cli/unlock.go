package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/host"
	"github.com/rileyhilliard/releasectl/internal/lock"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/rileyhilliard/releasectl/internal/ui"
	"github.com/rileyhilliard/releasectl/internal/util"
)

var (
	unlockFlags TargetFlags
	unlockForce bool
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Show or remove the deploy lock of an application",
	Long: `Show who holds the deploy lock of an application on each host of the
environment. With --force, remove it.

Only force a lock when the operation that took it is known to be dead:
the lock keeps two operators from flipping the same hosts at once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := unlockFlags.Target()
		if err != nil {
			return err
		}
		p, err := release.Resolve(t.Application, t.Environment, "")
		if err != nil {
			return err
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
				fmt.Sprintf("No hosts to unlock %s on", t),
				"Check the --hosts list against the hosts configured for "+t.Environment+".")
		}

		locker := lock.NewLocker(s.exec, s.cfg.Lock, s.log)
		var holders map[string]*lock.LockInfo
		_ = s.wait("Reading locks", func() error {
			holders = locker.Holders(s.ctx, p.DeployTo, hosts)
			return nil
		})
		report := newUnlockReport(holders, p.DeployTo)

		if unlockForce && len(holders) > 0 {
			if !assumeYes && s.format == formatText && canPrompt() {
				ok, err := confirm(fmt.Sprintf("Remove the deploy lock of %s on %d hosts?", t, len(holders)), "Remove")
				if err != nil {
					return errors.WrapWithCode(err, errors.ErrFailure,
						"Confirmation prompt failed",
						"Pass --yes to remove the lock without asking.")
				}
				if !ok {
					fmt.Fprintln(s.errOut, "Cancelled.")
					return nil
				}
			}
			var locked []string
			for h := range holders {
				locked = append(locked, h)
			}
			sort.Strings(locked)
			if err := locker.ForceRelease(s.ctx, p.DeployTo, locked); err != nil {
				return s.emit("unlock", report, nil, err)
			}
			report.Released = locked
		}
		return s.emit("unlock", report, func(w io.Writer) { renderUnlock(w, report) }, nil)
	},
}

type lockHolderReport struct {
	Host        string    `json:"host" yaml:"host"`
	User        string    `json:"user" yaml:"user"`
	Hostname    string    `json:"hostname" yaml:"hostname"`
	PID         int       `json:"pid" yaml:"pid"`
	Command     string    `json:"command,omitempty" yaml:"command,omitempty"`
	OperationID string    `json:"operation_id,omitempty" yaml:"operation_id,omitempty"`
	Started     time.Time `json:"started" yaml:"started"`
}

type unlockReport struct {
	Dir      string             `json:"dir" yaml:"dir"`
	Holders  []lockHolderReport `json:"holders" yaml:"holders"`
	Released []string           `json:"released,omitempty" yaml:"released,omitempty"`
}

func newUnlockReport(holders map[string]*lock.LockInfo, deployTo string) *unlockReport {
	r := &unlockReport{Dir: lock.Dir(deployTo), Holders: []lockHolderReport{}}
	for h, info := range holders {
		r.Holders = append(r.Holders, lockHolderReport{
			Host:        h,
			User:        info.User,
			Hostname:    info.Hostname,
			PID:         info.PID,
			Command:     info.Command,
			OperationID: info.OperationID,
			Started:     info.Started,
		})
	}
	sort.Slice(r.Holders, func(i, j int) bool { return r.Holders[i].Host < r.Holders[j].Host })
	return r
}

func renderUnlock(w io.Writer, r *unlockReport) {
	if len(r.Holders) == 0 {
		fmt.Fprintf(w, "%s No lock held at %s\n", ui.SymbolPending, r.Dir)
		return
	}
	var rows [][]string
	for _, h := range r.Holders {
		rows = append(rows, []string{h.Host, h.User + "@" + h.Hostname, h.Command, time.Since(h.Started).Round(time.Second).String()})
	}
	cols := []ui.TableColumn{{Title: "HOST"}, {Title: "HELD BY"}, {Title: "COMMAND"}, {Title: "AGE"}}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(cols, rows), rows))
	if len(r.Released) > 0 {
		fmt.Fprintf(w, "%s Released the lock on %d %s\n", ui.SymbolSuccess, len(r.Released), util.Pluralize(len(r.Released), "host", "hosts"))
	}
}

func init() {
	AddTargetFlags(unlockCmd, &unlockFlags, false)
	unlockCmd.Flags().BoolVar(&unlockForce, "force", false, "remove the lock")
	rootCmd.AddCommand(unlockCmd)
}
