package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/gitmeta"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/rileyhilliard/releasectl/internal/ui"
	"github.com/rileyhilliard/releasectl/internal/util"
)

var (
	refsApp    string
	refsVerify string
	refsHash   string

	manifestApp   string
	manifestRef   string
	manifestFiles bool
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "List the branches and tags of an application's repository",
	Long: `List HEAD, branches and tags of the central repository of an application,
with the commit each one points at.

With --verify and --hash, check instead that a tag or branch still points at
the given commit; a moved ref exits 6 (GIT_ERROR).

Examples:
  releasectl refs --app oregontrail
  releasectl refs --app oregontrail --verify 2.1.0 --hash 3f2c9a1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkApplication(refsApp); err != nil {
			return err
		}
		if (refsVerify == "") != (refsHash == "") {
			return errors.New(errors.ErrConfig,
				"--verify and --hash go together",
				"Pass both the ref name and the commit it should point at.")
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if refsVerify != "" {
			return verifyRef(s, refsApp, refsVerify, refsHash)
		}

		var refs []gitmeta.Ref
		err = s.wait("Listing refs of "+refsApp, func() error {
			var err error
			refs, err = s.git.ListRefs(s.ctx, refsApp)
			return err
		})
		if err != nil {
			return s.emit("refs", nil, nil, err)
		}
		reports := make([]refReport, 0, len(refs))
		for _, r := range refs {
			reports = append(reports, refReport{Kind: string(r.Kind), Name: r.Name, Full: r.Full, Hash: r.Hash})
		}
		return s.emit("refs", reports, func(w io.Writer) { renderRefs(w, reports) }, nil)
	},
}

type refCheckReport struct {
	Application string `json:"application" yaml:"application"`
	Ref         string `json:"ref" yaml:"ref"`
	Hash        string `json:"hash" yaml:"hash"`
	Matches     bool   `json:"matches" yaml:"matches"`
}

func verifyRef(s *session, app, ref, hash string) error {
	var ok bool
	err := s.wait("Checking "+ref, func() error {
		var err error
		ok, err = s.git.VerifyTagHash(s.ctx, app, ref, hash)
		return err
	})
	if err != nil {
		return s.emit("refs", nil, nil, err)
	}
	report := refCheckReport{Application: app, Ref: ref, Hash: hash, Matches: ok}
	if !ok {
		err = errors.New(errors.ErrGit,
			fmt.Sprintf("%s of %s does not point at %s", ref, app, hash),
			"The ref was moved or the hash is wrong; run 'releasectl refs --app "+app+"' to see where it points.")
	}
	return s.emit("refs", report, func(w io.Writer) {
		if ok {
			fmt.Fprint(w, ui.RenderResult(true, fmt.Sprintf("%s of %s points at %s", ref, app, hash), 0))
		}
	}, err)
}

func renderRefs(w io.Writer, refs []refReport) {
	var rows [][]string
	for _, r := range refs {
		hash := r.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		rows = append(rows, []string{r.Kind, r.Name, hash})
	}
	cols := []ui.TableColumn{{Title: "KIND"}, {Title: "NAME"}, {Title: "COMMIT"}}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(cols, rows), rows))
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Show the release manifest of a branch or tag",
	Long: `Print ` + gitmeta.ManifestPath + ` as committed at a branch or tag, or with --files the
list of files the ref contains.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkApplication(manifestApp); err != nil {
			return err
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		report := manifestReport{Application: manifestApp, Ref: manifestRef}
		err = s.wait("Reading "+manifestRef, func() error {
			if manifestFiles {
				files, err := s.git.ListFiles(s.ctx, manifestApp, manifestRef)
				report.Files = files
				return err
			}
			text, err := s.git.FetchManifest(s.ctx, manifestApp, manifestRef)
			report.Manifest = text
			return err
		})
		if err != nil {
			return s.emit("manifest", nil, nil, err)
		}
		return s.emit("manifest", report, func(w io.Writer) {
			if manifestFiles {
				fmt.Fprintln(w, strings.Join(report.Files, "\n"))
				return
			}
			fmt.Fprintln(w, strings.TrimRight(report.Manifest, "\n"))
		}, nil)
	},
}

type manifestReport struct {
	Application string   `json:"application" yaml:"application"`
	Ref         string   `json:"ref" yaml:"ref"`
	Manifest    string   `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Files       []string `json:"files,omitempty" yaml:"files,omitempty"`
}

func checkApplication(app string) error {
	if app == "" {
		return errors.New(errors.ErrAppNotFound, "No application given", "Pass --app <name>.")
	}
	if !release.IsKnownApplication(app) {
		suggestion := "Known applications: " + strings.Join(release.Applications(), ", ")
		if similar := util.SuggestSimilar(app, release.Applications(), 3); len(similar) > 0 {
			suggestion = "Did you mean " + strings.Join(similar, " or ") + "?"
		}
		return errors.New(errors.ErrAppNotFound, fmt.Sprintf("Unknown application '%s'", app), suggestion)
	}
	return nil
}

func init() {
	refsCmd.Flags().StringVar(&refsApp, "app", "", "application whose repository to read")
	refsCmd.Flags().StringVar(&refsVerify, "verify", "", "branch or tag to check")
	refsCmd.Flags().StringVar(&refsHash, "hash", "", "commit the --verify ref should point at")

	manifestCmd.Flags().StringVar(&manifestApp, "app", "", "application whose repository to read")
	manifestCmd.Flags().StringVar(&manifestRef, "branch", "HEAD", "branch or tag to read")
	manifestCmd.Flags().BoolVar(&manifestFiles, "files", false, "list the files of the ref instead")

	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(manifestCmd)
}
