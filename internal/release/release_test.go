package release

import (
	"testing"
	"time"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_DeployRoots(t *testing.T) {
	tests := []struct {
		app  string
		env  string
		want string
	}{
		{"oregontrail", "capistrano", "/var/www/html/oregontrail"},
		{"oregontrail", "production_eu_linux_mgr", "/var/www/html/production.fra/oregontrail"},
		{"keymaster", "production_na", "/var/www/html/production.dal/keymaster"},
		{"keymaster", "development1", "/var/www/html/development/keymaster"},
		{"keymaster", "development2", "/var/www/html/development_2/keymaster"},
		{"apb_www", "qa1_eu", "/var/www/html/quality_assurance_1/eu_apb_www"},
		{"rtw_www", "qa3_na", "/var/www/html/quality_assurance_3/na_rtw_www"},
		{"apb_beta", "qa2_eu", "/var/www/html/quality_assurance_2/apb_beta"},
		{"apb_cms", "staging_eu", "/var/www/html/staging.fra/apb_cms"},
		{"rtw_login", "staging_na", "/var/www/html/staging.dal/rtw_login"},
	}

	for _, tt := range tests {
		t.Run(tt.app+"@"+tt.env, func(t *testing.T) {
			p, err := Resolve(tt.app, tt.env, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.DeployTo)
			assert.Equal(t, tt.want+"/releases", p.Releases)
			assert.Equal(t, tt.want+"/shared", p.Shared)
			assert.Equal(t, tt.want+"/current", p.Current)
			assert.Empty(t, p.Release)
		})
	}
}

func TestResolve_WithReleaseName(t *testing.T) {
	p, err := Resolve("oregontrail", "qa1_na", "20240315120000")
	require.NoError(t, err)

	assert.Equal(t, "/var/www/html/quality_assurance_1/oregontrail/releases/20240315120000", p.Release)
	assert.Equal(t, "/var/www/html/quality_assurance_1/oregontrail/shared/cached-copy", p.CachedCopy())
	assert.Equal(t, p.Release+"/htdocs", p.InRelease("htdocs"))
	assert.Equal(t, p.Shared+"/config/x.php", p.InShared("config/x.php"))
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		app, env string
		release  string
		code     string
	}{
		{"unknown app", "wordpress", "qa1_na", "", errors.ErrAppNotFound},
		{"unknown env", "oregontrail", "qa9_na", "", errors.ErrEnvNotFound},
		{"allow-listed env without root", "oregontrail", "production", "", errors.ErrEnvNotFound},
		{"development has no root", "oregontrail", "development", "", errors.ErrEnvNotFound},
		{"bad release name", "oregontrail", "qa1_na", "2024-03-15", errors.ErrDeployment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.app, tt.env, tt.release)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestEveryEnvironmentWithRootIsAllowListed(t *testing.T) {
	for env := range deployRoots {
		assert.True(t, IsKnownEnvironment(env), env)
	}
	for _, app := range Applications() {
		_, ok := ProfileFor(app)
		assert.True(t, ok, "application %s needs a profile", app)
	}
}

func TestNewName(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	now := time.Date(2024, 3, 15, 13, 4, 5, 0, loc)

	name := NewName(now)
	assert.Equal(t, "20240315120405", name, "names are UTC")
	assert.True(t, IsName(name))
	assert.False(t, IsName(name+"-undep"))
}

func TestQuarantine(t *testing.T) {
	assert.Equal(t, "20240101000000-undep", Quarantine("20240101000000"))
	assert.True(t, IsQuarantined("20240101000000-undep"))
	assert.True(t, IsQuarantined("20240101000000-undep-old"))
	assert.False(t, IsQuarantined("20240101000000"))
}

func TestLatest(t *testing.T) {
	listing := []string{
		"20240101000000",
		"20240301000000-undep",
		"20240201000000",
		"notes.txt",
		"",
		"20231201000000",
	}

	assert.Equal(t, []string{"20240201000000", "20240101000000"}, Latest(listing, 2))
	assert.Equal(t, []string{"20240201000000", "20240101000000", "20231201000000"}, Latest(listing, 10))
	assert.Empty(t, Latest([]string{"20240301000000-undep"}, 2))
}

func TestProfiles(t *testing.T) {
	cake, ok := ProfileFor("oregontrail")
	require.True(t, ok)
	assert.True(t, cake.IsCake())

	rel := "/srv/oregontrail/releases/20240101000000"
	dirs := cake.TempDirPaths(rel)
	require.Len(t, dirs, 7)
	assert.Equal(t, rel+"/app/tmp", dirs[0])
	assert.Equal(t, rel+"/app/tmp/test", dirs[6])
	assert.Len(t, cake.WritableDirPaths(rel), 6)
	assert.NotContains(t, cake.WritableDirPaths(rel), rel+"/app/tmp")

	core, ok := cake.DebugConfigPath(rel)
	assert.True(t, ok)
	assert.Equal(t, rel+"/app/config/core.php", core)
	assert.Equal(t, rel+"/htdocs/version.txt", cake.VersionFilePath(rel))

	rtw, _ := ProfileFor("rtw_www")
	assert.False(t, rtw.IsCake())
	assert.Empty(t, rtw.TempDirPaths(rel))
	_, ok = rtw.DebugConfigPath(rel)
	assert.False(t, ok)
	assert.Equal(t, rel+"/version.txt", rtw.VersionFilePath(rel))

	akt, _ := ProfileFor("ak_cap_test")
	assert.Equal(t, rel+"/tmp/cache", akt.TempDirPaths(rel)[1], "temp dirs sit at the release root for non-Cake apps")

	km, _ := ProfileFor("keymaster")
	assert.Empty(t, km.Links)
}

func TestEnvironmentClasses(t *testing.T) {
	assert.True(t, IsDevEnvironment("development2"))
	assert.False(t, IsDevEnvironment("qa1_eu"))

	assert.True(t, WritesVersionFile("qa3_na"))
	assert.True(t, WritesVersionFile("capistrano"))
	assert.False(t, WritesVersionFile("production_eu"))
	assert.False(t, WritesVersionFile("staging_na"))
}

func TestSanitizeVersion(t *testing.T) {
	tests := map[string]string{
		"1.2.3":               "1.2.3",
		"v2.0-rc1 (build 7)":  "v2.0-rc1(build7)",
		"release/2024+hotfix": "release/2024+hotfix",
		"1.0; rm -rf /":       "1.0rm-rf/",
		"$(whoami)`id`'\"":    "(whoami)id",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeVersion(in), in)
	}
}
