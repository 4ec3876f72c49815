package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/releasectl/internal/deploy"
)

var (
	deployFlags     TargetFlags
	setupFlags      TargetFlags
	clearCacheFlags TargetFlags
	testFlags       TargetFlags
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a branch or tag to every host of an environment",
	Long: `Build a new timestamped release on every host of the environment and make it
current once all of them are ready.

The release is checked out from the shared git working copy, shared data is
linked in, debug output is turned off and, in testing environments, the
version label is recorded. The current symlink is flipped last; if any host
fails before that point the previous release keeps serving.

Examples:
  releasectl deploy --app oregontrail --env qa1_na --branch 2.1.0 --app-version "2.1.0 (rc1)"
  releasectl deploy --app rtw_www --env staging_na --hosts "[stg1]"
  releasectl deploy --app apb_www --env qa1_na --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(cmd, "deploy", &deployFlags, (*deploy.Deployer).Deploy)
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the releases and shared directories of an application",
	Long: `Create <deploy_to>/releases and <deploy_to>/shared on every host of the
environment and open them to the web group. Safe to run more than once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(cmd, "setup", &setupFlags, (*deploy.Deployer).Setup)
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Remove the shared git working copy so the next deploy clones afresh",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(cmd, "clear-cache", &clearCacheFlags, (*deploy.Deployer).ClearCache)
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that every host of an environment accepts remote commands",
	Long: `Run a no-op command on every host of the environment.

Exits 9 (TESTING_ERROR) when a host can't be reached and 10
(TESTING_FAILURE) when a host is reachable but the command fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(cmd, "test", &testFlags, (*deploy.Deployer).Test)
	},
}

type operationFunc func(d *deploy.Deployer, ctx context.Context, t deploy.Target) (*deploy.Outcome, error)

var operationLabels = map[string]string{
	"setup":       "Creating directories",
	"clear-cache": "Removing cached copy",
	"test":        "Probing hosts",
}

// runOperation runs one Deployer operation and reports its outcome.
// Mutating operations hold the deploy lock while they run.
func runOperation(cmd *cobra.Command, op string, flags *TargetFlags, run operationFunc) error {
	t, err := flags.Target()
	if err != nil {
		return err
	}
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	d := s.deployer()
	var o *deploy.Outcome
	body := func() error {
		var err error
		o, err = run(d, s.ctx, t)
		return err
	}
	if label, ok := operationLabels[op]; ok {
		inner := body
		body = func() error { return s.wait(label, inner) }
	}
	if op == "test" {
		err = body()
	} else {
		err = s.locked(op, t, body)
	}

	if o == nil {
		return s.emit(op, nil, nil, err)
	}
	r := newOperationReport(o).withInvocations(s.exec)
	r.LogFile = s.archiveJournal(o.Journal, op, t, o.Release)
	// Interactive deploys already drew each stage as it ran.
	showStages := !(s.interactive && op == "deploy")
	return s.emit(op, r, func(w io.Writer) { renderOperation(w, r, showStages) }, err)
}

func init() {
	AddTargetFlags(deployCmd, &deployFlags, true)
	AddTargetFlags(setupCmd, &setupFlags, false)
	AddTargetFlags(clearCacheCmd, &clearCacheFlags, false)
	AddTargetFlags(testCmd, &testFlags, false)

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(clearCacheCmd)
	rootCmd.AddCommand(testCmd)
}
