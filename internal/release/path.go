// Package release models the on-host release layout:
//
//	<deploy_to>/releases/<YYYYMMDDHHMMSS>   one directory per deploy
//	<deploy_to>/shared/                     persistent data linked into releases
//	<deploy_to>/current -> releases/<name>  the live release
//
// A rolled back release is renamed with the "-undep" suffix and is never
// selected again by listings.
package release

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/releasectl/internal/errors"
)

const (
	ReleasesDir      = "releases"
	SharedDir        = "shared"
	CurrentLink      = "current"
	CachedCopyDir    = "cached-copy"
	QuarantineSuffix = "-undep"

	// NameLayout is the time layout of release directory names.
	NameLayout = "20060102150405"
)

var namePattern = regexp.MustCompile(`^[0-9]{14}$`)

// Clock returns the current time. Injected so a whole operation shares
// one timestamp and tests can pin it.
type Clock func() time.Time

// NewName returns the release name for now, in UTC.
func NewName(now time.Time) string {
	return now.UTC().Format(NameLayout)
}

// IsName reports whether s is a well-formed release name.
func IsName(s string) bool {
	return namePattern.MatchString(s)
}

// IsQuarantined reports whether a release directory name carries the
// quarantine marker. Matching is by substring so hand-renamed directories
// like "20240101000000-undep-old" stay excluded too.
func IsQuarantined(name string) bool {
	return strings.Contains(name, "undep")
}

// Quarantine returns the quarantined form of a release name.
func Quarantine(name string) string {
	return name + QuarantineSuffix
}

// Latest filters a directory listing down to live release names, newest
// first, and returns at most n of them.
func Latest(listing []string, n int) []string {
	var names []string
	for _, entry := range listing {
		entry = strings.TrimSpace(entry)
		if IsQuarantined(entry) || !IsName(entry) {
			continue
		}
		names = append(names, entry)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// Path is the resolved layout for one application in one environment.
// It is computed once per operation and never mutated.
type Path struct {
	Application string
	Environment string

	DeployTo string
	Releases string
	Shared   string
	Current  string

	// Name and Release are set for operations that create a release.
	Name    string
	Release string
}

// Resolve computes the layout for app in env. The release name is optional;
// pass "" for operations that only inspect existing releases.
func Resolve(app, env, name string) (Path, error) {
	if !IsKnownApplication(app) {
		return Path{}, errors.New(errors.ErrAppNotFound,
			fmt.Sprintf("Application '%s' is unknown", app),
			"Known applications: "+strings.Join(Applications(), ", "))
	}
	if !IsKnownEnvironment(env) {
		return Path{}, errors.New(errors.ErrEnvNotFound,
			fmt.Sprintf("Environment '%s' is unknown", env),
			"Known environments: "+strings.Join(Environments(), ", "))
	}
	r, ok := deployRoots[env]
	if !ok {
		return Path{}, errors.New(errors.ErrEnvNotFound,
			fmt.Sprintf("Environment '%s' has no deploy path", env),
			"Deploy to one of its concrete variants instead (e.g. "+env+"_eu or "+env+"_na).")
	}
	if name != "" && !IsName(name) {
		return Path{}, errors.New(errors.ErrDeployment,
			fmt.Sprintf("Release name %q is not a %s timestamp", name, "YYYYMMDDHHMMSS"),
			"")
	}

	dir := app
	if r.region != "" && regionApps[app] {
		dir = r.region + "_" + app
	}

	deployTo := path.Join(r.base, dir)
	p := Path{
		Application: app,
		Environment: env,
		DeployTo:    deployTo,
		Releases:    path.Join(deployTo, ReleasesDir),
		Shared:      path.Join(deployTo, SharedDir),
		Current:     path.Join(deployTo, CurrentLink),
		Name:        name,
	}
	if name != "" {
		p.Release = path.Join(p.Releases, name)
	}
	return p, nil
}

// ReleaseDir returns the directory of the named release.
func (p Path) ReleaseDir(name string) string {
	return path.Join(p.Releases, name)
}

// CachedCopy returns the shared git working copy releases are copied from.
func (p Path) CachedCopy() string {
	return path.Join(p.Shared, CachedCopyDir)
}

// InRelease joins rel onto the release directory.
func (p Path) InRelease(rel string) string {
	return path.Join(p.Release, rel)
}

// InShared joins rel onto the shared directory.
func (p Path) InShared(rel string) string {
	return path.Join(p.Shared, rel)
}
