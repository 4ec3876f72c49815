package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/releasectl/internal/deploy"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/release"
)

// TargetFlags select what an operation acts on.
type TargetFlags struct {
	App     string
	Env     string
	Hosts   string
	Branch  string
	Version string
}

// AddTargetFlags registers --app, --env and --hosts on a command. Commands
// that deploy code also get --branch and --app-version.
func AddTargetFlags(cmd *cobra.Command, flags *TargetFlags, withRef bool) {
	cmd.Flags().StringVar(&flags.App, "app", "", "application to act on ("+strings.Join(release.Applications(), ", ")+")")
	cmd.Flags().StringVar(&flags.Env, "env", "", "environment to act on (e.g. qa1_na, staging_na)")
	cmd.Flags().StringVar(&flags.Hosts, "hosts", "", `narrow the environment to these hosts, e.g. "[web1, web2]"`)
	if withRef {
		cmd.Flags().StringVar(&flags.Branch, "branch", "", "branch or tag to deploy (default: HEAD)")
		cmd.Flags().StringVar(&flags.Version, "app-version", "", "version label recorded in testing environments")
	}
}

// Target validates the flags and returns the target they describe. Only
// the shape is checked here; allow-lists are checked by the operation.
func (f *TargetFlags) Target() (deploy.Target, error) {
	t := deploy.Target{
		Application: strings.TrimSpace(f.App),
		Environment: strings.TrimSpace(f.Env),
		Hosts:       strings.TrimSpace(f.Hosts),
		Ref:         strings.TrimSpace(f.Branch),
		Version:     strings.TrimSpace(f.Version),
	}
	if t.Application == "" {
		return t, errors.New(errors.ErrAppNotFound, "No application given", "Pass --app <name>.")
	}
	if t.Environment == "" {
		return t, errors.New(errors.ErrEnvNotFound, "No environment given", "Pass --env <name>.")
	}
	if t.Hosts != "" && !strings.HasPrefix(t.Hosts, "[") {
		t.Hosts = "[" + t.Hosts + "]"
	}
	if strings.ContainsAny(t.Ref, " \t\n;|&$`") {
		return t, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' is not a valid branch or tag name", t.Ref),
			"Use the short name of an existing branch or tag.")
	}
	return t, nil
}
