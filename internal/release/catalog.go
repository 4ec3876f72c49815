package release

import "sort"

// applications is the closed set of deployable applications.
var applications = []string{
	"ak_cap_test",
	"apb_beta",
	"apb_cms",
	"apb_www",
	"keymaster",
	"oregontrail",
	"rtw_login",
	"rtw_www",
}

// environments is the closed set of environment names accepted on input.
// A few of them (development, production) are accepted but have no deploy
// root; resolving a path for them fails with ENV_NOT_FOUND.
var environments = []string{
	"capistrano",
	"development",
	"development1",
	"development2",
	"qa1_eu",
	"qa1_na",
	"qa2_eu",
	"qa2_na",
	"qa3_eu",
	"qa3_na",
	"staging_eu",
	"staging_na",
	"production",
	"production_eu",
	"production_na",
	"production_eu_linux_mgr",
	"production_na_linux_mgr",
}

type root struct {
	base   string
	region string // "eu" or "na" when the environment is region split
}

var deployRoots = map[string]root{
	"capistrano":              {base: "/var/www/html"},
	"production_eu_linux_mgr": {base: "/var/www/html/production.fra"},
	"production_na_linux_mgr": {base: "/var/www/html/production.dal"},
	"development1":            {base: "/var/www/html/development"},
	"development2":            {base: "/var/www/html/development_2"},
	"qa1_eu":                  {base: "/var/www/html/quality_assurance_1", region: "eu"},
	"qa1_na":                  {base: "/var/www/html/quality_assurance_1", region: "na"},
	"qa2_eu":                  {base: "/var/www/html/quality_assurance_2", region: "eu"},
	"qa2_na":                  {base: "/var/www/html/quality_assurance_2", region: "na"},
	"qa3_eu":                  {base: "/var/www/html/quality_assurance_3", region: "eu"},
	"qa3_na":                  {base: "/var/www/html/quality_assurance_3", region: "na"},
	"staging_eu":              {base: "/var/www/html/staging.fra"},
	"staging_na":              {base: "/var/www/html/staging.dal"},
	"production_eu":           {base: "/var/www/html/production.fra"},
	"production_na":           {base: "/var/www/html/production.dal"},
}

// regionApps get an "eu_"/"na_" directory prefix in region split environments.
var regionApps = map[string]bool{
	"apb_www":   true,
	"apb_cms":   true,
	"rtw_login": true,
	"rtw_www":   true,
}

// devEnvironments keep application debug output enabled.
var devEnvironments = map[string]bool{
	"development":  true,
	"development1": true,
	"development2": true,
}

// testingEnvironments get a version.txt marker in the webroot.
var testingEnvironments = map[string]bool{
	"development":  true,
	"development1": true,
	"development2": true,
	"qa1_eu":       true,
	"qa1_na":       true,
	"qa2_eu":       true,
	"qa2_na":       true,
	"qa3_eu":       true,
	"qa3_na":       true,
	"capistrano":   true,
}

// Applications returns the application allow-list, sorted.
func Applications() []string {
	return sortedCopy(applications)
}

// Environments returns the environment allow-list, sorted.
func Environments() []string {
	return sortedCopy(environments)
}

// IsKnownApplication reports whether app is on the allow-list.
func IsKnownApplication(app string) bool {
	return contains(applications, app)
}

// IsKnownEnvironment reports whether env is on the allow-list.
func IsKnownEnvironment(env string) bool {
	return contains(environments, env)
}

// IsDevEnvironment reports whether env keeps debug output enabled.
func IsDevEnvironment(env string) bool {
	return devEnvironments[env]
}

// WritesVersionFile reports whether deploys to env record a version.txt.
func WritesVersionFile(env string) bool {
	return testingEnvironments[env]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedCopy(list []string) []string {
	out := append([]string(nil), list...)
	sort.Strings(out)
	return out
}
