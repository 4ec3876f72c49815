package remote

import (
	"testing"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Allowed(t *testing.T) {
	rel := "/var/www/html/quality_assurance_1/oregontrail/releases/20240101000000"
	tests := []struct {
		cmd   Command
		shape string
	}{
		{Cmd("true"), "probe"},
		{Cmd("which", "rsync"), "which"},
		{Cmd("mkdir", "-p", rel+"/app/tmp"), "mkdir_p"},
		{Cmd("mkdir", "/srv/app/.releasectl.lock"), "mkdir"},
		{Cmd("rm", "-rf", rel), "remove_tree"},
		{Cmd("rm", "-f", rel+"/config/x.php"), "remove"},
		{Cmd("ln", "-nsf", rel, "/srv/app/current"), "symlink"},
		{Cmd("mv", rel, rel+"-undep"), "rename"},
		{Cmd("chgrp", "apache", rel+"/app/tmp/cache"), "chgrp"},
		{Cmd("chmod", "g+rw", rel+"/app/tmp/cache"), "chmod"},
		{Cmd("test", "-f", rel+"/app/config/core.php"), "test"},
		{Cmd("ls", "-1", "/srv/app/releases"), "list"},
		{Cmd("cat", rel+"/htdocs/version.txt"), "read"},
		{Cmd("tee", "-a", rel+"/htdocs/version.txt").WithStdin([]byte("1.2.3\n")), "append"},
		{Cmd("sed", "-i", release.DisableDebugExpression, rel+"/app/config/core.php"), "disable_debug"},
		{Cmd("find", "/srv/app/releases", "-maxdepth", "3", "-name", "version.txt"), "find_versions"},
		{Cmd("rsync", "-lrpt", "--delete", "--exclude=.git", "/srv/app/shared/cached-copy/", rel+"/"), "copy_release"},
		{Cmd("git", "clone", "-q", "ssh://git@capistrano/mnt/gitrepo/_origin/oregontrail", "/srv/app/shared/cached-copy"), "git_clone"},
		{Cmd("git", "clone", "-q", "git@capistrano:repos/oregontrail", "/srv/app/shared/cached-copy"), "git_clone"},
		{Cmd("git", "-C", "/srv/app/shared/cached-copy", "checkout", "-q", "-f", "0123456789abcdef0123456789abcdef01234567"), "git_checkout"},
		{Cmd("git", "ls-remote", "/mnt/gitrepo/_origin/oregontrail", "release/2.1"), "git_ls_remote_ref"},
		{Cmd("git", "--git-dir=/mnt/gitrepo/_origin/oregontrail", "show", "refs/tags/v2.1:docs/release.nfo"), "git_show"},
		{Cmd("git", "--git-dir=/mnt/gitrepo/_origin/oregontrail", "ls-tree", "-r", "--name-only", "refs/heads/main"), "git_ls_tree"},
	}

	for _, tt := range tests {
		t.Run(tt.shape, func(t *testing.T) {
			shape, err := Validate(tt.cmd)
			require.NoError(t, err, tt.cmd.String())
			assert.Equal(t, tt.shape, shape.Name)
		})
	}
}

func TestValidate_Rejected(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"unknown verb", Cmd("curl", "http://example.com")},
		{"relative path", Cmd("rm", "-rf", "releases/x")},
		{"filesystem root", Cmd("rm", "-rf", "/")},
		{"parent reference", Cmd("rm", "-rf", "/srv/app/../../etc")},
		{"recursive force on root flag soup", Cmd("rm", "-rf", "/", "--no-preserve-root")},
		{"injection through ref", Cmd("git", "ls-remote", "/repo/app", "main;reboot")},
		{"option smuggled as ref", Cmd("git", "ls-remote", "/repo/app", "--upload-pack=touch")},
		{"branch instead of hash", Cmd("git", "-C", "/repo", "checkout", "-q", "-f", "main")},
		{"other sed program", Cmd("sed", "-i", "s/a/b/", "/srv/x")},
		{"wrong group", Cmd("chgrp", "Root Admins", "/srv/x")},
		{"stdin on non-stdin shape", Cmd("cat", "/srv/x").WithStdin([]byte("data"))},
		{"extra argument", Cmd("ln", "-nsf", "/a", "/b", "/c")},
		{"space in path", Cmd("mkdir", "-p", "/srv/my app")},
		{"option as tool", Cmd("which", "-a", "git")},
		{"tool with slash", Cmd("which", "/usr/bin/git")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.cmd)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrRemoteCmdInvalid))
		})
	}
}

func TestValidate_SuggestsAllowedForms(t *testing.T) {
	_, err := Validate(Cmd("rm", "-r", "/srv/x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rm -rf <path>")
	assert.Contains(t, err.Error(), "rm -f <path>")
}

func TestRender(t *testing.T) {
	cmd := Cmd("ln", "-nsf", "/srv/app/releases/20240101000000", "/srv/app/current")

	assert.Equal(t, "ln '-nsf' '/srv/app/releases/20240101000000' '/srv/app/current'", Render(cmd, ""))
	assert.Equal(t,
		"sudo -n -H -u 'stork' -- ln '-nsf' '/srv/app/releases/20240101000000' '/srv/app/current'",
		Render(cmd, "stork"))
	assert.Equal(t, Render(cmd, ""), cmd.String())
}

func TestParseCommandLine(t *testing.T) {
	cmd, err := ParseCommandLine("  ls -1 /srv/app/releases ")
	require.NoError(t, err)
	assert.Equal(t, Cmd("ls", "-1", "/srv/app/releases"), cmd)

	rejected := []string{
		"ls -1 /srv/app/releases; rm -rf /",
		"ls -1 /srv/app/releases && reboot",
		"cat /srv/app/x | sh",
		"cat $(echo /etc/shadow)",
		"cat `id`",
		"cat /srv/x > /srv/y",
		"ls -1 '/srv/app/releases'",
		"ls -1 /srv/*",
		"ls -1 /srv\nreboot",
		"",
		"reboot",
	}
	for _, line := range rejected {
		_, err := ParseCommandLine(line)
		require.Error(t, err, "%q", line)
		assert.True(t, errors.IsCode(err, errors.ErrRemoteCmdInvalid), "%q", line)
	}
}
