package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/rileyhilliard/releasectl/internal/deploy"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/rollback"
)

var (
	verifyFlags TargetFlags
	undoFlags   TargetFlags
)

var verifyRollbackCmd = &cobra.Command{
	Use:   "verify-rollback",
	Short: "Check that every host agrees on what a rollback would restore",
	Long: `List the two newest live releases and their version labels on every host of
the environment and compare them. Exits 0 when all hosts report the same
pair and 8 (DEPLOYMENT_ERROR) otherwise. Nothing is changed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := verifyFlags.Target()
		if err != nil {
			return err
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		v, err := s.verify(t)
		if v == nil {
			return s.emit("verify-rollback", nil, nil, err)
		}
		r := newVerifyReport(v)
		return s.emit("verify-rollback", r, func(w io.Writer) { renderVerification(w, r) }, v.Err())
	},
}

var undoRollbackCmd = &cobra.Command{
	Use:   "undo-rollback",
	Short: "Make the previous release current again on every host",
	Long: `Undo the last deploy: point current back at the previous release and
quarantine the newest one so later listings skip it.

The hosts are verified first, and again once the deploy lock is held; the
undo is refused when they disagree about which releases it would touch or
when those releases changed in between. Each host then goes through the steps
on its own; when only some hosts finish, the command exits 8 and reports
which hosts need manual reconciliation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		const op = "undo-rollback"
		t, err := undoFlags.Target()
		if err != nil {
			return err
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		v, err := s.verify(t)
		if v == nil {
			return s.emit(op, nil, nil, err)
		}
		if verr := v.Err(); verr != nil {
			r := newVerifyReport(v)
			return s.emit(op, r, func(w io.Writer) { renderVerification(w, r) }, verr)
		}

		pair := v.Dates[v.Hosts[0]]
		if !assumeYes && !dryRun && s.format == formatText && canPrompt() {
			title := fmt.Sprintf("Roll %s back from %s to %s on %d hosts?", t, pair.Current, pair.Restorable, len(v.Hosts))
			ok, err := confirm(title, "Roll back")
			if err != nil {
				return errors.WrapWithCode(err, errors.ErrFailure,
					"Confirmation prompt failed",
					"Pass --yes to roll back without asking.")
			}
			if !ok {
				fmt.Fprintln(s.errOut, "Cancelled.")
				return nil
			}
		}

		var u *rollback.UndoResult
		coord := s.coordinator()
		err = s.locked(op, t, func() error {
			// A deploy may have landed since the first check.
			again, err := s.verify(t)
			if err != nil {
				return err
			}
			if verr := again.Err(); verr != nil {
				v = again
				return verr
			}
			if got := again.Dates[again.Hosts[0]]; got != pair {
				return errors.New(errors.ErrDeployment,
					fmt.Sprintf("Releases of %s changed from %s %s to %s %s since they were checked",
						t, pair.Current, pair.Restorable, got.Current, got.Restorable),
					"Nothing was changed. Run undo-rollback again to roll back the new state.")
			}
			return s.wait("Rolling back", func() error {
				var err error
				u, err = coord.Undo(s.ctx, t, pair)
				return err
			})
		})
		if u == nil {
			if !v.Matches {
				r := newVerifyReport(v)
				return s.emit(op, r, func(w io.Writer) { renderVerification(w, r) }, err)
			}
			return s.emit(op, nil, nil, err)
		}
		r := newUndoReport(u)
		if s.exec.DryRun() {
			r.Commands = invocationLines(s.exec)
		}
		r.LogFile = s.archiveJournal(u.Journal, op, t, "")
		return s.emit(op, r, func(w io.Writer) { renderUndo(w, r) }, err)
	},
}

// verify runs the consistency check behind a spinner.
func (s *session) verify(t deploy.Target) (*rollback.Verification, error) {
	coord := s.coordinator()
	var v *rollback.Verification
	err := s.wait("Comparing releases", func() error {
		var err error
		v, err = coord.VerifyConsistency(s.ctx, t)
		return err
	})
	return v, err
}

func newConfirmForm(title, affirmative string, value *bool) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative(affirmative).
				Negative("Cancel").
				Value(value),
		),
	)
}

func init() {
	AddTargetFlags(verifyRollbackCmd, &verifyFlags, false)
	AddTargetFlags(undoRollbackCmd, &undoFlags, false)

	rootCmd.AddCommand(verifyRollbackCmd)
	rootCmd.AddCommand(undoRollbackCmd)
}
