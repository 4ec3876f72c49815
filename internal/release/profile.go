package release

import (
	"path"
	"regexp"
)

// OpKind is a link policy operation.
type OpKind string

const (
	OpRemove     OpKind = "remove"      // rm -f <release>/<Target>
	OpRemoveTree OpKind = "remove_tree" // rm -rf <release>/<Target>
	OpMkdir      OpKind = "mkdir"       // mkdir -p <release>/<Target>
	OpLink       OpKind = "link"        // ln -nsf <shared>/<Source> <release>/<Target>
)

// LinkOp is one step of an application's persistent data policy.
// Paths are relative: Target to the release, Source to shared/.
type LinkOp struct {
	Kind     OpKind
	Target   string
	Source   string
	Tolerate bool // failure is logged and ignored, for old releases missing the parent dir
}

// Profile describes how an application is laid out inside a release.
type Profile struct {
	// Webroot is where version.txt goes, relative to the release.
	Webroot string

	// CakeAppDir is the CakePHP app directory, empty for non-Cake apps.
	CakeAppDir string

	// TempDirs requests writable CakePHP tmp/cache directories under CakeAppDir.
	TempDirs bool

	Links []LinkOp
}

// cakeTempDirs are created under the Cake app dir; all but the first are
// handed to the web group.
var cakeTempDirs = []string{
	"tmp",
	"tmp/cache",
	"tmp/cache/persistent",
	"tmp/cache/models",
	"tmp/logs",
	"tmp/session",
	"tmp/test",
}

var forumMedia = []string{"customavatars", "customgroupicons", "customprofilepics", "signaturepics", "images"}

func apbSiteLinks() []LinkOp {
	ops := []LinkOp{
		{Kind: OpRemove, Target: "config/config.nexus.inc.sample.php"},
		{Kind: OpRemove, Target: "app/config/config.nexus.inc.php"},
		{Kind: OpRemove, Target: "config/config.nexus.inc.php"},
	}
	for _, dir := range forumMedia {
		ops = append(ops, LinkOp{Kind: OpRemoveTree, Target: "htdocs/forums/" + dir})
	}
	ops = append(ops, LinkOp{Kind: OpLink, Source: "config/config.nexus.inc.php", Target: "config/config.nexus.inc.php", Tolerate: true})
	for _, dir := range forumMedia {
		ops = append(ops, LinkOp{Kind: OpLink, Source: "media/forums/" + dir, Target: "htdocs/forums/" + dir, Tolerate: true})
	}
	return ops
}

var profiles = map[string]Profile{
	"apb_beta": {
		Webroot:    "htdocs/",
		CakeAppDir: "app_site",
		TempDirs:   true,
		Links:      apbSiteLinks(),
	},
	"apb_www": {
		Webroot:    "htdocs/",
		CakeAppDir: "app_site",
		TempDirs:   true,
		Links:      apbSiteLinks(),
	},
	"apb_cms": {
		Webroot:    "htdocs/",
		CakeAppDir: "app_admin",
		TempDirs:   true,
		Links: []LinkOp{
			{Kind: OpMkdir, Target: "config"},
			{Kind: OpRemove, Target: "config/config.nexus.inc.php"},
			{Kind: OpLink, Source: "config/config.nexus.inc.php", Target: "config/config.nexus.inc.php"},
		},
	},
	"keymaster": {
		Webroot: "htdocs/",
	},
	"oregontrail": {
		Webroot:    "htdocs/",
		CakeAppDir: "app",
		TempDirs:   true,
		Links: []LinkOp{
			{Kind: OpRemove, Target: "config/config.nexus.inc.sample.php"},
			{Kind: OpLink, Source: "config/config.nexus.inc.php", Target: "config/config.nexus.inc.php"},
		},
	},
	"rtw_login": {
		Webroot: "htdocs/",
	},
	"rtw_www": {
		Webroot: "/",
		Links: []LinkOp{
			{Kind: OpRemove, Target: "htdocs/.htaccess"},
			{Kind: OpRemove, Target: "htdocs/config.nexus.inc.php"},
			{Kind: OpRemove, Target: "wp-content/uploads"},
			{Kind: OpLink, Source: "config/config.nexus.inc.php", Target: "config.nexus.inc.php"},
			{Kind: OpLink, Source: "config/.htaccess", Target: ".htaccess"},
			{Kind: OpLink, Source: "wp-content/uploads", Target: "wp-content/uploads"},
		},
	},
	"ak_cap_test": {
		Webroot:  "/",
		TempDirs: true,
		Links: []LinkOp{
			{Kind: OpLink, Source: ".htaccess", Target: ".htaccess"},
			{Kind: OpLink, Source: "configfile.sample.php", Target: "configfile.sample.php"},
		},
	},
}

// ProfileFor returns the layout profile of app.
func ProfileFor(app string) (Profile, bool) {
	p, ok := profiles[app]
	return p, ok
}

// IsCake reports whether the application is a CakePHP app.
func (p Profile) IsCake() bool {
	return p.CakeAppDir != ""
}

// TempDirPaths returns the absolute tmp directories to create inside release.
func (p Profile) TempDirPaths(release string) []string {
	if !p.TempDirs {
		return nil
	}
	out := make([]string, 0, len(cakeTempDirs))
	for _, dir := range cakeTempDirs {
		out = append(out, path.Join(release, p.CakeAppDir, dir))
	}
	return out
}

// WritableDirPaths returns the tmp directories handed to the web group.
func (p Profile) WritableDirPaths(release string) []string {
	dirs := p.TempDirPaths(release)
	if len(dirs) == 0 {
		return nil
	}
	return dirs[1:]
}

// DebugConfigPath returns the CakePHP core config whose debug level is
// forced to zero outside development environments.
func (p Profile) DebugConfigPath(release string) (string, bool) {
	if !p.IsCake() {
		return "", false
	}
	return path.Join(release, p.CakeAppDir, "config", "core.php"), true
}

// VersionFilePath returns where the version marker is written.
func (p Profile) VersionFilePath(release string) string {
	return path.Join(release, p.Webroot, "version.txt")
}

// DisableDebugExpression is the sed program that zeroes the CakePHP debug level.
const DisableDebugExpression = `s/Configure::write('debug',[ ]*[1-9]);/Configure::write('debug', 0);/`

var versionUnsafe = regexp.MustCompile(`(?i)[^a-z0-9.\-/+()]`)

// SanitizeVersion strips everything but [A-Za-z0-9.-/+()] from a version label.
func SanitizeVersion(v string) string {
	return versionUnsafe.ReplaceAllString(v, "")
}
