package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/ui"
)

// Global flags
var (
	cfgFile    string
	outputFlag string
	noColor    bool
	dryRun     bool
	assumeYes  bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "releasectl",
	Short: "Deploy, verify and roll back web application releases",
	Long: `releasectl builds timestamped releases of an application on every host of
an environment, flips the current symlink once all of them are ready, and can
undo the last deploy when every host agrees on what would be restored.

Every command exits with the status of its outcome, so scripts can branch
on it: 0 OK, 2 FAILURE, 3 APP_NOT_FOUND, 4 ENV_NOT_FOUND, 5 DEPS_NOT_MET,
6 GIT_ERROR, 7 REMOTE_ACCESS_ERROR, 8 DEPLOYMENT_ERROR, 9 TESTING_ERROR,
10 TESTING_FAILURE, 11 CONFIG_ERROR, 12 REMOTE_COMMAND_INVALID.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || os.Getenv("NO_COLOR") != "" || !isTerminal(cmd.OutOrStdout()) {
			ui.DisableColors()
		}
		_, err := parseOutputFormat(outputFlag)
		return err
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: releasectl.yaml here or in a parent, then ~/.config/releasectl/config.yaml)")
	pf.StringVarP(&outputFlag, "output", "o", string(formatText), "output format: text, json or yaml")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&dryRun, "dry-run", false, "validate and print remote commands without sending them")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "don't ask for confirmation")
	pf.BoolVarP(&verbose, "verbose", "v", false, "stream the operation log while it runs")
}

// Execute runs the root command and exits the process with the status of
// the outcome.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(handleError(err, rootCmd.OutOrStdout(), rootCmd.ErrOrStderr()))
}

// reportedError marks an error that was already written as part of a
// structured report.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// handleError writes err unless a command already reported it, and
// returns the exit status.
func handleError(err error, out, errOut io.Writer) int {
	if err == nil {
		return 0
	}

	var reported *reportedError
	if !stderrors.As(err, &reported) {
		switch {
		case isUnknownCommandError(err):
			msg := err.Error()
			if name := extractUnknownCommand(err); name != "" {
				if suggestions := rootCmd.SuggestionsFor(name); len(suggestions) > 0 {
					msg += "\n\nDid you mean " + strings.Join(suggestions, " or ") + "?"
				}
			}
			fmt.Fprintf(errOut, "%s %s\n\nRun 'releasectl --help' for usage.\n", ui.SymbolFail, msg)
		case structuredOutput():
			format, _ := parseOutputFormat(outputFlag)
			_ = writeEnvelope(out, format, envelopeFor(nil, err))
		default:
			fmt.Fprint(errOut, strings.TrimRight(err.Error(), "\n")+"\n")
		}
	}
	return errors.ExitStatus(errors.CodeOf(err))
}

// isUnknownCommandError reports whether err is cobra's complaint about an
// unknown command or flag.
func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}

// extractUnknownCommand pulls the command name out of
// `unknown command "foo" for "releasectl"`.
func extractUnknownCommand(err error) string {
	msg := err.Error()
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '"')
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}
