package integration

import (
	"context"
	stderrors "errors"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/lock"
	"github.com/rileyhilliard/releasectl/internal/logger"
)

func testLocker(env *remoteEnv, timeout, stale time.Duration) *lock.Locker {
	l := lock.NewLocker(env.exec, config.LockConfig{Enabled: true, Timeout: timeout, Stale: stale}, logger.Noop())
	l.SetPollInterval(100 * time.Millisecond)
	return l
}

// TestLockAcquireAndRelease tests basic lock acquisition and release via SSH.
func TestLockAcquireAndRelease(t *testing.T) {
	env := newRemoteEnv(t)
	ctx := context.Background()
	l := testLocker(env, 5*time.Second, time.Hour)

	lk, err := l.Acquire(ctx, env.deployTo, []string{testHost}, lock.NewLockInfo("deploy", "op-1"))
	require.NoError(t, err)
	require.NotNil(t, lk)

	assert.True(t, env.exists(t, lock.Dir(env.deployTo)))
	assert.True(t, env.exists(t, path.Join(lock.Dir(env.deployTo), lock.InfoFile)))

	holders := l.Holders(ctx, env.deployTo, []string{testHost})
	require.Contains(t, holders, testHost)
	assert.Equal(t, "deploy", holders[testHost].Command)
	assert.Equal(t, "op-1", holders[testHost].OperationID)

	require.NoError(t, lk.Release(ctx))
	assert.False(t, env.exists(t, lock.Dir(env.deployTo)))
}

// TestLockHeldTimesOut tests a second acquirer gives up while the lock is held.
func TestLockHeldTimesOut(t *testing.T) {
	env := newRemoteEnv(t)
	ctx := context.Background()
	l := testLocker(env, 500*time.Millisecond, time.Hour)

	first, err := l.Acquire(ctx, env.deployTo, []string{testHost}, lock.NewLockInfo("deploy", "op-1"))
	require.NoError(t, err)
	defer first.Release(ctx)

	_, err = l.Acquire(ctx, env.deployTo, []string{testHost}, lock.NewLockInfo("undo-rollback", "op-2"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, lock.ErrLocked))

	// The holder is untouched.
	holders := l.Holders(ctx, env.deployTo, []string{testHost})
	assert.Equal(t, "op-1", holders[testHost].OperationID)
}

// TestLockStaleIsTakenOver tests that a lock older than lock.stale is removed.
func TestLockStaleIsTakenOver(t *testing.T) {
	env := newRemoteEnv(t)
	ctx := context.Background()

	info := lock.NewLockInfo("deploy", "op-old")
	info.Started = time.Now().Add(-2 * time.Hour)
	old, err := testLocker(env, time.Second, time.Hour).Acquire(ctx, env.deployTo, []string{testHost}, info)
	require.NoError(t, err)
	require.NotNil(t, old)

	lk, err := testLocker(env, 5*time.Second, time.Hour).Acquire(ctx, env.deployTo, []string{testHost}, lock.NewLockInfo("deploy", "op-new"))
	require.NoError(t, err)
	defer lk.Release(ctx)

	holders := testLocker(env, time.Second, time.Hour).Holders(ctx, env.deployTo, []string{testHost})
	assert.Equal(t, "op-new", holders[testHost].OperationID)
}

// TestLockForceRelease tests the unlock path.
func TestLockForceRelease(t *testing.T) {
	env := newRemoteEnv(t)
	ctx := context.Background()
	l := testLocker(env, time.Second, time.Hour)

	_, err := l.Acquire(ctx, env.deployTo, []string{testHost}, lock.NewLockInfo("deploy", "op-1"))
	require.NoError(t, err)

	require.NoError(t, l.ForceRelease(ctx, env.deployTo, []string{testHost}))
	assert.Empty(t, l.Holders(ctx, env.deployTo, []string{testHost}))
	assert.False(t, env.exists(t, lock.Dir(env.deployTo)))
}
