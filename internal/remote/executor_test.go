package remote

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rileyhilliard/releasectl/internal/errors"
	hosttesting "github.com/rileyhilliard/releasectl/internal/host/testing"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/pkg/sshutil"
	sstesting "github.com/rileyhilliard/releasectl/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dialerFunc func(ctx context.Context, host string) (sshutil.SSHClient, error)

func (f dialerFunc) Connect(ctx context.Context, host string) (sshutil.SSHClient, error) {
	return f(ctx, host)
}

// slowClient blocks each command for delay (or until ctx ends) and tracks
// how many commands run at once.
type slowClient struct {
	*sstesting.MockClient
	delay   time.Duration
	running *int32
	peak    *int32
}

func (c *slowClient) ExecStream(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	n := atomic.AddInt32(c.running, 1)
	defer atomic.AddInt32(c.running, -1)
	for {
		p := atomic.LoadInt32(c.peak)
		if n <= p || atomic.CompareAndSwapInt32(c.peak, p, n) {
			break
		}
	}

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-time.After(c.delay):
	}
	return c.MockClient.ExecStream(ctx, cmd, stdin, stdout, stderr)
}

type recordedObservation struct {
	shape, outcome string
}

type fakeRecorder struct {
	mu  sync.Mutex
	obs []recordedObservation
}

func (r *fakeRecorder) ObserveCommand(shape, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, recordedObservation{shape, outcome})
}

func TestRun_FansOutToEveryHost(t *testing.T) {
	pool := hosttesting.NewFakePool("qa1a", "qa1b")
	pool.Client("qa1a").GetFS().MkdirAll("/srv/app/releases/20240101000000")
	pool.Client("qa1b").GetFS().MkdirAll("/srv/app/releases/20240102000000")

	exec := NewExecutor(pool, Options{Logger: logger.Noop()})
	results, err := exec.Run(context.Background(), Cmd("ls", "-1", "/srv/app/releases"), []string{"qa1a", "qa1b", "qa1a"})
	require.NoError(t, err)

	assert.Equal(t, []string{"qa1a", "qa1b"}, results.Hosts())
	assert.True(t, results.AllOK())
	assert.Equal(t, []string{"20240101000000"}, results["qa1a"].Stdout)
	assert.Equal(t, []string{"20240102000000"}, results["qa1b"].Stdout)
	assert.Len(t, exec.Invocations(), 2, "duplicate hosts run once")
}

func TestRun_RejectedCommandNeverLeaves(t *testing.T) {
	pool := hosttesting.NewFakePool("qa1a")
	exec := NewExecutor(pool, Options{Logger: logger.Noop()})

	_, err := exec.Run(context.Background(), Cmd("sh", "-c", "rm -rf /srv"), []string{"qa1a"})
	assert.True(t, errors.IsCode(err, errors.ErrRemoteCmdInvalid))
	assert.Empty(t, exec.Invocations())
	assert.Empty(t, pool.Connects)
	assert.Zero(t, pool.CommandCount())
}

func TestRun_NonZeroExitIsReported(t *testing.T) {
	pool := hosttesting.NewFakePool("qa1a")
	exec := NewExecutor(pool, Options{Logger: logger.Noop()})

	results, err := exec.Run(context.Background(), Cmd("ls", "-1", "/srv/missing"), []string{"qa1a"})
	require.NoError(t, err)

	r := results["qa1a"]
	assert.Equal(t, 2, r.ExitCode)
	assert.NoError(t, r.Err)
	assert.False(t, r.OK())
	assert.Contains(t, r.Stderr[0], "No such file or directory")
	assert.Equal(t, []string{"qa1a"}, results.Failed())
}

func TestRun_MissingCommandIsDepsNotMet(t *testing.T) {
	pool := hosttesting.NewFakePool("qa1a")
	pool.Client("qa1a").SetCommandResponse(`^rsync `, sstesting.CommandResponse{
		Stderr:   []byte("bash: rsync: command not found\n"),
		ExitCode: 127,
	})
	exec := NewExecutor(pool, Options{Logger: logger.Noop()})

	results, err := exec.Run(context.Background(),
		Cmd("rsync", "-lrpt", "--delete", "--exclude=.git", "/srv/a/", "/srv/b/"), []string{"qa1a"})
	require.NoError(t, err)

	r := results["qa1a"]
	require.Error(t, r.Err)
	assert.True(t, errors.IsCode(r.Err, errors.ErrDepsNotMet))
	assert.Contains(t, r.Err.Error(), "'rsync' is not installed")
	assert.Contains(t, r.Err.Error(), "qa1a")
}

func TestRun_DialFailureIsAttributed(t *testing.T) {
	pool := hosttesting.NewFakePool("qa1a", "qa1b")
	pool.Fail("qa1b", stderrors.New("dial tcp: connection refused"))
	exec := NewExecutor(pool, Options{Logger: logger.Noop()})

	results, err := exec.Run(context.Background(), Cmd("true"), []string{"qa1a", "qa1b"})
	require.NoError(t, err)

	assert.True(t, results["qa1a"].OK())
	require.Error(t, results["qa1b"].Err)
	assert.True(t, errors.IsCode(results["qa1b"].Err, errors.ErrRemoteAccess))
	assert.Contains(t, results["qa1b"].Err.Error(), "qa1b")
	assert.Equal(t, results["qa1b"].Err, results.FirstErr())
}

func TestRun_TimeoutIsRemoteAccessError(t *testing.T) {
	var running, peak int32
	client := &slowClient{MockClient: sstesting.NewMockClient("qa1a"), delay: time.Hour, running: &running, peak: &peak}
	rec := &fakeRecorder{}
	exec := NewExecutor(dialerFunc(func(context.Context, string) (sshutil.SSHClient, error) {
		return client, nil
	}), Options{Timeout: 20 * time.Millisecond, Logger: logger.Noop(), Recorder: rec})

	results, err := exec.Run(context.Background(), Cmd("true"), []string{"qa1a"})
	require.NoError(t, err)

	r := results["qa1a"]
	require.Error(t, r.Err)
	assert.True(t, errors.IsCode(r.Err, errors.ErrRemoteAccess))
	assert.Contains(t, r.Err.Error(), "timed out")
	assert.Equal(t, []recordedObservation{{"probe", OutcomeTimeout}}, rec.obs)
}

func TestRun_ParallelLimit(t *testing.T) {
	var running, peak int32
	exec := NewExecutor(dialerFunc(func(_ context.Context, host string) (sshutil.SSHClient, error) {
		return &slowClient{MockClient: sstesting.NewMockClient(host), delay: 10 * time.Millisecond, running: &running, peak: &peak}, nil
	}), Options{Parallel: 2, Logger: logger.Noop()})

	results, err := exec.Run(context.Background(), Cmd("true"), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.True(t, results.AllOK())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_DryRunSendsNothing(t *testing.T) {
	pool := hosttesting.NewFakePool("qa1a")
	log := logger.NewBufferLogger()
	rec := &fakeRecorder{}
	exec := NewExecutor(pool, Options{DryRun: true, RunAs: "stork", Logger: log, Recorder: rec})

	results, err := exec.Run(context.Background(), Cmd("rm", "-rf", "/srv/app/current"), []string{"qa1a"})
	require.NoError(t, err)

	assert.True(t, results["qa1a"].OK())
	assert.Empty(t, pool.Connects)
	assert.Zero(t, pool.CommandCount())
	require.Len(t, exec.Invocations(), 1)
	assert.True(t, exec.Invocations()[0].DryRun)
	assert.True(t, log.Contains("info", "[dry-run] qa1a: sudo -n -H -u 'stork' -- rm '-rf' '/srv/app/current'"))
	assert.Equal(t, []recordedObservation{{"remove_tree", OutcomeDryRun}}, rec.obs)
	assert.True(t, exec.DryRun())
}

func TestRun_RunAsPrefixAndStdin(t *testing.T) {
	pool := hosttesting.NewFakePool("qa1a")
	fs := pool.Client("qa1a").GetFS()
	fs.MkdirAll("/srv/app/htdocs")

	exec := NewExecutor(pool, Options{RunAs: "stork", Logger: logger.Noop()})
	cmd := Cmd("tee", "-a", "/srv/app/htdocs/version.txt").WithStdin([]byte("2.1.0\n"))
	results, err := exec.Run(context.Background(), cmd, []string{"qa1a"})
	require.NoError(t, err)
	require.True(t, results["qa1a"].OK())

	content, err := fs.ReadFile("/srv/app/htdocs/version.txt")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0\n", string(content))
	assert.Equal(t, []string{"sudo -n -H -u 'stork' -- tee '-a' '/srv/app/htdocs/version.txt'"}, pool.Client("qa1a").Commands())
}

func TestRunLines_TagsLinesWithHost(t *testing.T) {
	pool := hosttesting.NewFakePool("qa1a", "qa1b")
	for _, h := range []string{"qa1a", "qa1b"} {
		fs := pool.Client(h).GetFS()
		fs.MkdirAll("/srv/app/releases/20240101000000")
		fs.MkdirAll("/srv/app/releases/20240201000000")
	}
	pool.Client("qa1b").GetFS().MkdirAll("/srv/app/releases/20240301000000")

	var mu sync.Mutex
	seen := map[string][]string{}
	exec := NewExecutor(pool, Options{Logger: logger.Noop()})
	_, err := exec.RunLines(context.Background(), Cmd("ls", "-1", "/srv/app/releases"), []string{"qa1a", "qa1b"},
		func(host string, stream Stream, line string) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, Stdout, stream)
			seen[host] = append(seen[host], line)
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"20240101000000", "20240201000000"}, seen["qa1a"])
	assert.Equal(t, []string{"20240101000000", "20240201000000", "20240301000000"}, seen["qa1b"])
}

func TestLineWriter_SplitsAndFlushes(t *testing.T) {
	var lines []string
	var got []string
	var mu sync.Mutex
	w := &lineWriter{host: "h", stream: Stderr, lines: &lines, mu: &mu, handler: func(_ string, s Stream, line string) {
		got = append(got, s.String()+":"+line)
	}}

	_, _ = w.Write([]byte("fir"))
	_, _ = w.Write([]byte("st\r\nsecond\nthi"))
	assert.Equal(t, []string{"first", "second"}, lines)
	w.Flush()
	assert.Equal(t, []string{"first", "second", "thi"}, lines)
	assert.Equal(t, []string{"stderr:first", "stderr:second", "stderr:thi"}, got)
}

func TestMissingCommand(t *testing.T) {
	tests := []struct {
		stderr string
		code   int
		name   string
		found  bool
	}{
		{"bash: rsync: command not found", 127, "rsync", true},
		{"sh: 1: git: not found", 127, "git", true},
		{"sudo: tee: command not found", 127, "tee", true},
		{"weird", 127, "", true},
		{"bash: rsync: command not found", 1, "", false},
	}
	for _, tt := range tests {
		name, found := missingCommand(tt.stderr, tt.code)
		assert.Equal(t, tt.found, found, tt.stderr)
		assert.Equal(t, tt.name, name, tt.stderr)
	}
}

func TestShapesAreUniquelyNamed(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range Shapes() {
		assert.False(t, seen[s.Name], s.Name)
		seen[s.Name] = true
	}
}

func TestVerbs(t *testing.T) {
	verbs := Verbs()

	assert.Contains(t, verbs, "git")
	assert.Contains(t, verbs, "rsync")
	assert.Contains(t, verbs, "which")
	assert.NotContains(t, verbs, "true")
	assert.IsNonDecreasing(t, verbs)
	assert.Equal(t, 1, countOf(verbs, "git"), "verbs are listed once")
}

func countOf(items []string, s string) int {
	n := 0
	for _, i := range items {
		if i == s {
			n++
		}
	}
	return n
}
