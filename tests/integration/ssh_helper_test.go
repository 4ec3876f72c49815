package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/host"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/internal/remote"
	"github.com/rileyhilliard/releasectl/pkg/sshutil"
)

// testHost is the name the SSH test server is configured under.
const testHost = "test-host"

// RequireSSH skips the test unless the SSH test server is available.
func RequireSSH(t *testing.T) {
	t.Helper()
	if os.Getenv("RELEASECTL_TEST_SSH_HOST") == "" {
		t.Skip("Skipping: RELEASECTL_TEST_SSH_HOST not set (SSH test server not available)")
	}
	if os.Getenv(sshutil.EnvSSHKey) == "" {
		t.Skip("Skipping: " + sshutil.EnvSSHKey + " not set (SSH test key not available)")
	}
}

// remoteEnv is an executor connected to the test server plus a scratch
// deploy root that is removed when the test ends.
type remoteEnv struct {
	exec     *remote.Executor
	pool     *host.Pool
	deployTo string
}

// newRemoteEnv dials the SSH test server. The caller gets a fresh deploy
// root under /tmp.
func newRemoteEnv(t *testing.T) *remoteEnv {
	t.Helper()
	RequireSSH(t)

	cfg := config.DefaultConfig()
	cfg.InsecureIgnoreHostKey = true
	cfg.Hosts = map[string]config.Host{
		testHost: {SSH: []string{os.Getenv("RELEASECTL_TEST_SSH_HOST")}},
	}

	pool := host.NewPool(cfg, logger.Noop())
	t.Cleanup(func() { _ = pool.Close() })

	env := &remoteEnv{
		exec:     remote.NewExecutor(pool, remote.Options{Timeout: 30 * time.Second}),
		pool:     pool,
		deployTo: fmt.Sprintf("/tmp/releasectl-test-%d", time.Now().UnixNano()),
	}
	env.mustRun(t, remote.Cmd("mkdir", "-p", env.deployTo))
	t.Cleanup(func() {
		_, _ = env.exec.Run(context.Background(), remote.Cmd("rm", "-rf", env.deployTo), []string{testHost})
	})
	return env
}

// mustRun runs cmd on the test host and fails the test unless it exits 0.
func (e *remoteEnv) mustRun(t *testing.T, cmd remote.Command) *remote.Result {
	t.Helper()
	results, err := e.exec.Run(context.Background(), cmd, []string{testHost})
	require.NoError(t, err)
	r := results[testHost]
	require.NotNil(t, r)
	require.NoError(t, r.Err)
	require.Equal(t, 0, r.ExitCode, "stderr: %v", r.Stderr)
	return r
}

// exists reports whether path exists on the test host.
func (e *remoteEnv) exists(t *testing.T, path string) bool {
	t.Helper()
	results, err := e.exec.Run(context.Background(), remote.Cmd("test", "-e", path), []string{testHost})
	require.NoError(t, err)
	return results[testHost].OK()
}

// writeFile writes content to path on the test host.
func (e *remoteEnv) writeFile(t *testing.T, path, content string) {
	t.Helper()
	e.mustRun(t, remote.Cmd("tee", path).WithStdin([]byte(content)))
}
