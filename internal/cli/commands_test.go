package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/releasectl/internal/config"
	hosttesting "github.com/rileyhilliard/releasectl/internal/host/testing"
	"github.com/rileyhilliard/releasectl/internal/lock"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/internal/remote"
	sstesting "github.com/rileyhilliard/releasectl/pkg/sshutil/testing"
)

const (
	qaRoot     = "/var/www/html/quality_assurance_1/oregontrail"
	deletable  = "20230101000000"
	restorable = "20221201000000"
)

const lsRemote = `a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1	HEAD
a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1	refs/heads/master
c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3	refs/tags/2.1.0
d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4	refs/tags/2.1.0^{}
`

const cliConfig = `
version: 1
lock:
  enabled: %t
logs:
  dir: %s
metrics:
  textfile: %s
environments:
  qa1_na:
    hosts: [qa1a, qa1b]
applications:
  oregontrail:
    repository: origin
repositories:
  origin:
    host: capistrano
    path: /mnt/gitrepo/_origin
    url: /mnt/gitrepo/_origin
`

type cliFixture struct {
	pool    *hosttesting.FakePool
	logs    string
	metrics string
}

// newCLI writes a config file and points the command line at a fake pool.
func newCLI(t *testing.T, locking bool) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	f := &cliFixture{
		pool:    hosttesting.NewFakePool("qa1a", "qa1b", "capistrano"),
		logs:    filepath.Join(dir, "logs"),
		metrics: filepath.Join(dir, "releasectl.prom"),
	}
	path := filepath.Join(dir, config.ConfigFileName)
	content := fmt.Sprintf(cliConfig, locking, f.logs, f.metrics)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	f.pool.Client("capistrano").SetCommandResponse(`^git 'ls-remote' '/mnt/gitrepo/_origin/oregontrail'$`,
		sstesting.CommandResponse{Stdout: []byte(lsRemote)})

	origDialer := newDialer
	newDialer = func(*config.Config, logger.Logger) (remote.Dialer, func() error) {
		return f.pool, func() error { return nil }
	}
	t.Cleanup(func() { newDialer = origDialer })
	t.Setenv(config.EnvConfigPath, "")
	cfgFile = path
	return f
}

// resetFlags puts every flag of every command back to its default, since
// cobra keeps parsed values between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// run executes the command line and returns stdout, stderr and the exit
// status.
func (f *cliFixture) run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	path := cfgFile
	resetFlags(rootCmd)
	cfgFile = path

	var out, errOut bytes.Buffer
	rootCmd.SetArgs(append([]string{"--config", path}, args...))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		resetFlags(rootCmd)
	})

	err := rootCmd.ExecuteContext(context.Background())
	status := handleError(err, &out, &errOut)
	return out.String(), errOut.String(), status
}

func seedReleases(c *sstesting.MockClient, versions map[string]string) {
	files := make(map[string]string)
	newest := ""
	for name, v := range versions {
		files[qaRoot+"/releases/"+name+"/htdocs/index.php"] = "<?php"
		files[qaRoot+"/releases/"+name+"/htdocs/version.txt"] = v + "\n"
		if name > newest {
			newest = name
		}
	}
	sstesting.WithFiles(c, files)
	sstesting.WithLinks(c, map[string]string{qaRoot + "/current": qaRoot + "/releases/" + newest})
}

func standardReleases() map[string]string {
	return map[string]string{
		"20221101000000": "1.9.0",
		restorable:       "2.0.0",
		deletable:        "2.1.0(rc1)",
	}
}

func decodeEnvelope(t *testing.T, out string) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	return env
}

func TestVerifyRollbackCommand_Match(t *testing.T) {
	f := newCLI(t, false)
	seedReleases(f.pool.Client("qa1a"), standardReleases())
	seedReleases(f.pool.Client("qa1b"), standardReleases())

	out, _, status := f.run(t, "verify-rollback", "--app", "oregontrail", "--env", "qa1_na")

	assert.Equal(t, 0, status)
	assert.Contains(t, out, "All 2 hosts agree; undo-rollback would restore "+restorable)
	assert.Contains(t, out, "2.1.0(rc1)")
}

func TestVerifyRollbackCommand_MismatchJSON(t *testing.T) {
	f := newCLI(t, false)
	seedReleases(f.pool.Client("qa1a"), standardReleases())
	seedReleases(f.pool.Client("qa1b"), map[string]string{
		"20221101000000": "1.9.0",
		restorable:       "2.0.0",
	})

	out, errOut, status := f.run(t, "verify-rollback", "--app", "oregontrail", "--env", "qa1_na", "-o", "json")

	assert.Equal(t, 8, status)
	assert.Empty(t, errOut)
	env := decodeEnvelope(t, out)
	assert.Equal(t, false, env["success"])
	assert.Equal(t, "DEPLOYMENT_ERROR", env["status"])

	data := env["data"].(map[string]interface{})
	assert.Equal(t, false, data["matches"])
	dates := data["dates"].(map[string]interface{})
	assert.Equal(t, deletable, dates["qa1a"].(map[string]interface{})["current"])
	assert.Equal(t, restorable, dates["qa1b"].(map[string]interface{})["current"])
}

func TestUndoRollbackCommand(t *testing.T) {
	f := newCLI(t, true)
	seedReleases(f.pool.Client("qa1a"), standardReleases())
	seedReleases(f.pool.Client("qa1b"), standardReleases())

	out, errOut, status := f.run(t, "undo-rollback", "--app", "oregontrail", "--env", "qa1_na", "--yes")

	require.Equal(t, 0, status, errOut)
	assert.Contains(t, out, "Rolled back oregontrail@qa1_na on 2 hosts")
	assert.Contains(t, out, "Log: "+f.logs)

	for _, h := range []string{"qa1a", "qa1b"} {
		fs := f.pool.Client(h).GetFS()
		current, ok := fs.Readlink(qaRoot + "/current")
		require.True(t, ok, h)
		assert.Equal(t, qaRoot+"/releases/"+restorable, current, h)
		assert.True(t, fs.IsDir(qaRoot+"/releases/"+deletable+"-undep"), h)
		assert.False(t, fs.Exists(lock.Dir(qaRoot)), "lock is released on %s", h)
	}

	archived, err := filepath.Glob(filepath.Join(f.logs, "*"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	prom, err := os.ReadFile(f.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `releasectl_operations_total{`)
}

func TestUndoRollbackCommand_RefusesMismatch(t *testing.T) {
	f := newCLI(t, true)
	seedReleases(f.pool.Client("qa1a"), standardReleases())
	seedReleases(f.pool.Client("qa1b"), map[string]string{
		"20221101000000": "1.9.0",
		restorable:       "2.0.0",
	})

	out, _, status := f.run(t, "undo-rollback", "--app", "oregontrail", "--env", "qa1_na", "--yes")

	assert.Equal(t, 8, status)
	assert.Contains(t, out, "Hosts disagree")
	current, _ := f.pool.Client("qa1a").GetFS().Readlink(qaRoot + "/current")
	assert.Equal(t, qaRoot+"/releases/"+deletable, current, "nothing changes when hosts disagree")
}

func TestUndoRollbackCommand_ReleasesChangeWhileConfirming(t *testing.T) {
	f := newCLI(t, true)
	seedReleases(f.pool.Client("qa1a"), standardReleases())
	seedReleases(f.pool.Client("qa1b"), standardReleases())

	origPrompt, origConfirm := canPrompt, confirm
	t.Cleanup(func() { canPrompt, confirm = origPrompt, origConfirm })
	canPrompt = func() bool { return true }
	var asked string
	confirm = func(title, affirmative string) (bool, error) {
		asked = title
		// Another deploy finishes on qa1a while the operator reads the prompt.
		sstesting.WithFiles(f.pool.Client("qa1a"), map[string]string{
			qaRoot + "/releases/20230201000000/htdocs/index.php": "<?php",
		})
		return true, nil
	}

	out, _, status := f.run(t, "undo-rollback", "--app", "oregontrail", "--env", "qa1_na")

	assert.Equal(t, 8, status)
	assert.Contains(t, asked, "from "+deletable+" to "+restorable)
	assert.Contains(t, out, "Hosts disagree")
	for _, h := range []string{"qa1a", "qa1b"} {
		fs := f.pool.Client(h).GetFS()
		current, _ := fs.Readlink(qaRoot + "/current")
		assert.Equal(t, qaRoot+"/releases/"+deletable, current, "nothing changes on %s", h)
		assert.True(t, fs.IsDir(qaRoot+"/releases/"+deletable), h)
		assert.False(t, fs.Exists(lock.Dir(qaRoot)), "lock is released on %s", h)
	}
}

func TestUndoRollbackCommand_Cancelled(t *testing.T) {
	f := newCLI(t, true)
	seedReleases(f.pool.Client("qa1a"), standardReleases())
	seedReleases(f.pool.Client("qa1b"), standardReleases())

	origPrompt, origConfirm := canPrompt, confirm
	t.Cleanup(func() { canPrompt, confirm = origPrompt, origConfirm })
	canPrompt = func() bool { return true }
	confirm = func(string, string) (bool, error) { return false, nil }

	_, errOut, status := f.run(t, "undo-rollback", "--app", "oregontrail", "--env", "qa1_na")

	assert.Equal(t, 0, status)
	assert.Contains(t, errOut, "Cancelled.")
	current, _ := f.pool.Client("qa1a").GetFS().Readlink(qaRoot + "/current")
	assert.Equal(t, qaRoot+"/releases/"+deletable, current)
}

func TestDeployCommand(t *testing.T) {
	f := newCLI(t, true)
	for _, h := range []string{"qa1a", "qa1b"} {
		c := f.pool.Client(h)
		seedReleases(c, map[string]string{restorable: "2.0.0"})
		sstesting.WithFiles(c, map[string]string{qaRoot + "/shared/config/config.nexus.inc.php": "<?php"})
		c.SetRepoFiles(map[string]string{
			"htdocs/index.php":                   "<?php echo 'hi';",
			"app/config/core.php":                "Configure::write('debug', 2);\n",
			"config/config.nexus.inc.sample.php": "sample",
		})
	}

	out, errOut, status := f.run(t, "deploy", "--app", "oregontrail", "--env", "qa1_na",
		"--branch", "2.1.0", "--app-version", "2.1.0 (rc1)", "-o", "json")

	require.Equal(t, 0, status, errOut+out)
	env := decodeEnvelope(t, out)
	assert.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	release := data["release"].(string)
	assert.NotEmpty(t, release)
	assert.Equal(t, "d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4", data["ref"].(map[string]interface{})["hash"])

	for _, h := range []string{"qa1a", "qa1b"} {
		fs := f.pool.Client(h).GetFS()
		current, ok := fs.Readlink(qaRoot + "/current")
		require.True(t, ok, h)
		assert.Equal(t, qaRoot+"/releases/"+release, current, h)
		assert.False(t, fs.Exists(lock.Dir(qaRoot)), h)
	}
}

func TestClearCacheCommand_DryRun(t *testing.T) {
	f := newCLI(t, true)

	out, _, status := f.run(t, "clear-cache", "--app", "oregontrail", "--env", "qa1_na", "--dry-run", "-o", "yaml")

	assert.Equal(t, 0, status)
	assert.Zero(t, f.pool.CommandCount(), "dry run sends nothing")

	var env struct {
		Success bool `yaml:"success"`
		Data    struct {
			DryRun   bool     `yaml:"dry_run"`
			Commands []string `yaml:"commands"`
		} `yaml:"data"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &env), out)
	assert.True(t, env.Success)
	assert.True(t, env.Data.DryRun)
	assert.Equal(t, []string{
		"qa1a: rm '-rf' '" + qaRoot + "/shared/cached-copy'",
		"qa1b: rm '-rf' '" + qaRoot + "/shared/cached-copy'",
	}, env.Data.Commands)
}

func TestTestCommand_UnreachableHost(t *testing.T) {
	f := newCLI(t, false)
	f.pool.Fail("qa1b", fmt.Errorf("connection refused"))

	_, _, status := f.run(t, "test", "--app", "oregontrail", "--env", "qa1_na")

	assert.Equal(t, 9, status)
}

func TestCommands_TargetErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		status int
		errOut string
	}{
		{"missing app", []string{"deploy", "--env", "qa1_na"}, 3, "No application given"},
		{"missing env", []string{"verify-rollback", "--app", "oregontrail"}, 4, "No environment given"},
		{"unknown app", []string{"setup", "--app", "wordpress", "--env", "qa1_na"}, 3, ""},
		{"unknown env", []string{"clear-cache", "--app", "oregontrail", "--env", "qa9_na"}, 4, ""},
		{"bad ref", []string{"deploy", "--app", "oregontrail", "--env", "qa1_na", "--branch", "x;rm"}, 11, "not a valid branch"},
		{"bad output", []string{"refs", "--app", "oregontrail", "-o", "xml"}, 11, "Unknown output format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCLI(t, true)

			_, errOut, status := f.run(t, tt.args...)

			assert.Equal(t, tt.status, status)
			assert.Contains(t, errOut, tt.errOut)
			assert.Zero(t, f.pool.CommandCount())
		})
	}
}

func TestRefsCommand(t *testing.T) {
	f := newCLI(t, false)

	out, _, status := f.run(t, "refs", "--app", "oregontrail")

	assert.Equal(t, 0, status)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "d4d4d4d4d4d4")
	assert.Contains(t, out, "master")
}

func TestRefsCommand_Verify(t *testing.T) {
	tests := []struct {
		name   string
		hash   string
		status int
	}{
		{"points at commit", "c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3", 0},
		{"moved", "e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5", 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCLI(t, false)
			f.pool.Client("capistrano").SetCommandResponse(`ls-remote' '/mnt/gitrepo/_origin/oregontrail' '2.1.0'$`,
				sstesting.CommandResponse{Stdout: []byte("c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3\trefs/tags/2.1.0\n")})

			out, _, status := f.run(t, "refs", "--app", "oregontrail", "--verify", "2.1.0", "--hash", tt.hash, "-o", "json")

			assert.Equal(t, tt.status, status)
			env := decodeEnvelope(t, out)
			assert.Equal(t, tt.status == 0, env["data"].(map[string]interface{})["matches"])
		})
	}
}

func TestManifestCommand(t *testing.T) {
	f := newCLI(t, false)
	f.pool.Client("capistrano").SetCommandResponse(`^git '--git-dir=/mnt/gitrepo/_origin/oregontrail' 'show' 'refs/tags/2.1.0:docs/release.nfo'$`,
		sstesting.CommandResponse{Stdout: []byte("Release 2.1.0\n- fixes\n")})

	out, _, status := f.run(t, "manifest", "--app", "oregontrail", "--branch", "2.1.0")

	assert.Equal(t, 0, status)
	assert.Equal(t, "Release 2.1.0\n- fixes\n", out)
}

func TestRefsCommand_VerifyNeedsHash(t *testing.T) {
	f := newCLI(t, false)

	_, errOut, status := f.run(t, "refs", "--app", "oregontrail", "--verify", "2.1.0")

	assert.Equal(t, 11, status)
	assert.Contains(t, errOut, "--verify and --hash go together")
}

func TestUnlockCommand(t *testing.T) {
	f := newCLI(t, true)
	info := lock.NewLockInfo("deploy oregontrail@qa1_na", "op-1")
	payload, err := info.Marshal()
	require.NoError(t, err)
	sstesting.WithFiles(f.pool.Client("qa1a"), map[string]string{
		lock.Dir(qaRoot) + "/" + lock.InfoFile: string(payload),
	})

	out, _, status := f.run(t, "unlock", "--app", "oregontrail", "--env", "qa1_na")
	assert.Equal(t, 0, status)
	assert.Contains(t, out, "qa1a")
	assert.Contains(t, out, "deploy oregontrail@qa1_na")
	assert.True(t, f.pool.Client("qa1a").GetFS().Exists(lock.Dir(qaRoot)), "listing leaves the lock alone")

	out, _, status = f.run(t, "unlock", "--app", "oregontrail", "--env", "qa1_na", "--force", "--yes")
	assert.Equal(t, 0, status)
	assert.Contains(t, out, "Released the lock on 1 host")
	assert.False(t, f.pool.Client("qa1a").GetFS().Exists(lock.Dir(qaRoot)))

	out, _, status = f.run(t, "unlock", "--app", "oregontrail", "--env", "qa1_na")
	assert.Equal(t, 0, status)
	assert.True(t, strings.Contains(out, "No lock held"), out)
}

func TestCheckCommand(t *testing.T) {
	f := newCLI(t, false)

	out, _, status := f.run(t, "check", "--app", "oregontrail", "--env", "qa1_na")

	assert.Equal(t, 0, status)
	assert.Contains(t, out, "All 2 hosts have the")
	assert.NotZero(t, f.pool.CommandCount())
}

func TestCheckCommand_MissingTool(t *testing.T) {
	f := newCLI(t, false)
	f.pool.Client("qa1a").SetCommandResponse(`^which 'php'$`, sstesting.CommandResponse{ExitCode: 1})

	out, _, status := f.run(t, "check", "--app", "oregontrail", "--env", "qa1_na", "--tool", "php", "-o", "json")

	assert.Equal(t, 5, status)
	env := decodeEnvelope(t, out)
	assert.Equal(t, "DEPS_NOT_MET", env["status"])
	hosts := env["data"].(map[string]interface{})["hosts"].([]interface{})
	assert.Equal(t, []interface{}{"php"}, hosts[0].(map[string]interface{})["missing"])
	assert.Nil(t, hosts[1].(map[string]interface{})["missing"])
}
