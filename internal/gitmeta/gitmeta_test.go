package gitmeta

import (
	"context"
	"testing"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/errors"
	hosttesting "github.com/rileyhilliard/releasectl/internal/host/testing"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/internal/remote"
	sstesting "github.com/rileyhilliard/releasectl/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lsRemote = `a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1	HEAD
a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1	refs/heads/master
b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2	refs/heads/2.1.0
c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3	refs/tags/2.1.0
d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4	refs/tags/2.1.0^{}
e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5	refs/tags/2.0.9
f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6	refs/pull/12/head
`

func setup(t *testing.T) (*Reader, *sstesting.MockClient) {
	return setupWith(t, sstesting.CommandResponse{Stdout: []byte(lsRemote)})
}

func setupWith(t *testing.T, listing sstesting.CommandResponse) (*Reader, *sstesting.MockClient) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Applications["oregontrail"] = config.Application{Repository: "origin"}
	cfg.Repositories["origin"] = config.Repository{Host: "capistrano", Path: "/mnt/gitrepo/_origin", URL: "/mnt/gitrepo/_origin"}

	pool := hosttesting.NewFakePool("capistrano")
	client := pool.Client("capistrano")
	client.SetCommandResponse(`^git 'ls-remote' '/mnt/gitrepo/_origin/oregontrail'$`, listing)

	exec := remote.NewExecutor(pool, remote.Options{Logger: logger.Noop()})
	return NewReader(exec, cfg), client
}

func TestListRefs(t *testing.T) {
	r, _ := setup(t)

	refs, err := r.ListRefs(context.Background(), "oregontrail")
	require.NoError(t, err)

	var names []string
	for _, ref := range refs {
		names = append(names, string(ref.Kind)+":"+ref.Name)
	}
	assert.Equal(t, []string{"head:HEAD", "branch:master", "branch:2.1.0", "tag:2.1.0", "tag:2.0.9"}, names)
	assert.Equal(t, "d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4", refs[3].Hash, "annotated tags resolve to the commit")
}

func TestResolveRef(t *testing.T) {
	tests := []struct {
		name string
		full string
		hash string
	}{
		{"", "HEAD", "a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"},
		{"2.1.0", "refs/tags/2.1.0", "d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4"},
		{"master", "refs/heads/master", "a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"},
		{"refs/heads/2.1.0", "refs/heads/2.1.0", "b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2"},
	}

	r, _ := setup(t)
	for _, tt := range tests {
		t.Run(tt.full, func(t *testing.T) {
			ref, err := r.ResolveRef(context.Background(), "oregontrail", tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.full, ref.Full)
			assert.Equal(t, tt.hash, ref.Hash)
		})
	}
}

func TestResolveRef_Errors(t *testing.T) {
	r, _ := setup(t)

	_, err := r.ResolveRef(context.Background(), "oregontrail", "nope")
	assert.True(t, errors.IsCode(err, errors.ErrGit))

	_, err = r.ResolveRef(context.Background(), "keymaster", "master")
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestResolveRef_GitFailure(t *testing.T) {
	r, _ := setupWith(t, sstesting.CommandResponse{
		Stderr:   []byte("fatal: '/mnt/gitrepo/_origin/oregontrail' does not appear to be a git repository\n"),
		ExitCode: 128,
	})

	_, err := r.ResolveRef(context.Background(), "oregontrail", "master")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrGit))
	assert.Contains(t, err.Error(), "capistrano")

	r, _ = setupWith(t, sstesting.CommandResponse{})
	_, err = r.ListRefs(context.Background(), "oregontrail")
	assert.True(t, errors.IsCode(err, errors.ErrGit), "empty repository")
}

func TestVerifyTagHash(t *testing.T) {
	r, client := setup(t)
	client.SetCommandResponse(`ls-remote' '/mnt/gitrepo/_origin/oregontrail' '2.1.0'$`, sstesting.CommandResponse{
		Stdout: []byte("b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2\trefs/heads/2.1.0\nc3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3\trefs/tags/2.1.0\n"),
	})

	ok, err := r.VerifyTagHash(context.Background(), "oregontrail", "2.1.0", "b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2")
	require.NoError(t, err)
	assert.True(t, ok, "a branch of the same name counts")

	ok, err = r.VerifyTagHash(context.Background(), "oregontrail", "2.1.0", "0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.VerifyTagHash(context.Background(), "oregontrail", "2.1.0;reboot", "x")
	assert.True(t, errors.IsCode(err, errors.ErrRemoteCmdInvalid))
}

func TestFetchManifest(t *testing.T) {
	r, client := setup(t)
	client.SetCommandResponse(`^git '--git-dir=/mnt/gitrepo/_origin/oregontrail' 'show' 'refs/tags/2.1.0:docs/release.nfo'$`, sstesting.CommandResponse{
		Stdout: []byte("Release 2.1.0\n- fixes\n"),
	})

	manifest, err := r.FetchManifest(context.Background(), "oregontrail", "2.1.0")
	require.NoError(t, err)
	assert.Equal(t, "Release 2.1.0\n- fixes", manifest)
}

func TestFetchManifest_Missing(t *testing.T) {
	r, client := setup(t)
	client.SetCommandResponse(`'show'`, sstesting.CommandResponse{
		Stderr:   []byte("fatal: path 'docs/release.nfo' does not exist in 'HEAD'\n"),
		ExitCode: 128,
	})

	_, err := r.FetchManifest(context.Background(), "oregontrail", "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrGit))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestListFiles(t *testing.T) {
	r, client := setup(t)
	client.SetCommandResponse(`'ls-tree' '-r' '--name-only' 'refs/heads/master'$`, sstesting.CommandResponse{
		Stdout: []byte("app/config/core.php\nhtdocs/index.php\n\n"),
	})

	files, err := r.ListFiles(context.Background(), "oregontrail", "master")
	require.NoError(t, err)
	assert.Equal(t, []string{"app/config/core.php", "htdocs/index.php"}, files)
}
