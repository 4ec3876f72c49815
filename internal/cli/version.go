package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionShort bool

type versionInfo struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Built   string `json:"built" yaml:"built"`
	Go      string `json:"go" yaml:"go"`
	OS      string `json:"os" yaml:"os"`
	Arch    string `json:"arch" yaml:"arch"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version: formatVersion(version),
		Commit:  commit,
		Built:   date,
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash and build date of releasectl.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if format, err := parseOutputFormat(outputFlag); err == nil && format != formatText {
			return writeEnvelope(out, format, envelopeFor(currentVersion(), nil))
		}
		if versionShort {
			fmt.Fprintln(out, version)
			return nil
		}

		v := currentVersion()
		fmt.Fprintf(out, "releasectl %s\ncommit: %s\nbuilt: %s\ngo: %s\nos/arch: %s/%s\n",
			v.Version, v.Commit, v.Built, v.Go, v.OS, v.Arch)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
}

// formatVersion adds the 'v' prefix to release versions.
func formatVersion(v string) string {
	if v == "" || v == "dev" || v[0] == 'v' {
		return v
	}
	return "v" + v
}

// SetVersionInfo sets the build information. Called from main.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
