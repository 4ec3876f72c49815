// Package lock serializes mutating operations against one deploy root.
//
// The lock is a directory, <deploy_to>/.releasectl.lock, created with mkdir
// on every target host. mkdir is atomic, so of two operators racing for the
// same host only one wins. The winner writes info.json describing itself.
// A lock is only held when every host was acquired; a partial acquisition
// is rolled back before Acquire returns.
package lock

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/internal/remote"
)

const (
	// DirName is the lock directory created under the deploy root.
	DirName = ".releasectl.lock"

	// InfoFile holds the JSON LockInfo of the holder.
	InfoFile = "info.json"

	defaultPoll = 2 * time.Second

	// orphanPolls is how many attempts in a row must find a lock without a
	// readable info file before it counts as stale. A live holder writes
	// the file right after its mkdir.
	orphanPolls = 2
)

// Runner runs a command on a set of hosts. Satisfied by *remote.Executor.
type Runner interface {
	Run(ctx context.Context, cmd remote.Command, hosts []string) (remote.Results, error)
}

// Dir returns the lock directory for a deploy root.
func Dir(deployTo string) string {
	return path.Join(deployTo, DirName)
}

// Locker acquires deploy locks.
type Locker struct {
	run  Runner
	cfg  config.LockConfig
	log  logger.Logger
	poll time.Duration
}

// NewLocker creates a Locker. Disabled configs are the caller's business;
// the Locker always locks when asked.
func NewLocker(run Runner, cfg config.LockConfig, log logger.Logger) *Locker {
	return &Locker{run: run, cfg: cfg, log: logger.OrDefault(log), poll: defaultPoll}
}

// SetPollInterval changes how long Acquire waits between attempts.
func (l *Locker) SetPollInterval(d time.Duration) {
	l.poll = d
}

// Lock is an acquired lock on every host of an operation.
type Lock struct {
	Dir   string
	Hosts []string
	Info  *LockInfo

	run Runner
}

// Acquire takes the lock for deployTo on every host. While any host is held
// by someone else it retries until cfg.Timeout, removing locks older than
// cfg.Stale on the way. With stale detection on, a lock whose info file is
// still missing or unreadable on the second attempt is removed as well. On
// failure nothing stays locked.
func (l *Locker) Acquire(ctx context.Context, deployTo string, hosts []string, info *LockInfo) (*Lock, error) {
	dir := Dir(deployTo)
	infoFile := path.Join(dir, InfoFile)

	payload, err := info.Marshal()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrFailure, "Can't serialize lock info", "")
	}

	// The lock lives inside the deploy root, which may not exist yet on a
	// host that was never set up.
	if err := l.step(ctx, remote.Cmd("mkdir", "-p", deployTo), hosts); err != nil {
		return nil, err
	}

	var held []string
	pending := append([]string(nil), hosts...)
	start := time.Now()
	orphaned := make(map[string]int)

	for {
		results, err := l.run.Run(ctx, remote.Cmd("mkdir", dir), pending)
		if err != nil {
			return nil, err
		}

		var won, busy []string
		for _, h := range pending {
			r := results[h]
			switch {
			case r.Err != nil:
				l.release(ctx, dir, append(held, won...))
				return nil, r.Err
			case r.ExitCode == 0:
				won = append(won, h)
			default:
				busy = append(busy, h)
			}
		}

		if len(won) > 0 {
			if err := l.step(ctx, remote.Cmd("tee", infoFile).WithStdin(payload), won); err != nil {
				l.release(ctx, dir, append(held, won...))
				return nil, err
			}
			held = append(held, won...)
		}

		if len(busy) == 0 {
			sort.Strings(held)
			l.log.Debug("locked %s on %s", dir, strings.Join(held, ", "))
			return &Lock{Dir: dir, Hosts: held, Info: info, run: l.run}, nil
		}

		holders := l.holders(ctx, infoFile, busy)
		var stale []string
		for _, h := range busy {
			hi := holders[h]
			if hi != nil {
				delete(orphaned, h)
			} else {
				orphaned[h]++
			}
			switch {
			case l.cfg.Stale <= 0:
			case hi != nil && hi.Age() > l.cfg.Stale:
				l.log.Warn("%s: removing stale lock held by %s", h, hi)
				stale = append(stale, h)
			case hi == nil && orphaned[h] >= orphanPolls:
				l.log.Warn("%s: removing lock without a readable %s", h, InfoFile)
				stale = append(stale, h)
				delete(orphaned, h)
			}
		}
		if len(stale) > 0 {
			if err := l.step(ctx, remote.Cmd("rm", "-rf", dir), stale); err != nil {
				l.release(ctx, dir, held)
				return nil, err
			}
			pending = busy
			continue
		}

		if time.Since(start) >= l.cfg.Timeout {
			l.release(ctx, dir, held)
			return nil, lockedError(dir, busy, holders, l.cfg.Timeout)
		}

		select {
		case <-ctx.Done():
			l.release(ctx, dir, held)
			return nil, errors.WrapWithCode(ctx.Err(), errors.ErrDeployment,
				"Gave up waiting for the deploy lock", "")
		case <-time.After(l.poll):
		}
		pending = busy
	}
}

// Release removes the lock from every host it was taken on.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil || len(lk.Hosts) == 0 {
		return nil
	}
	return removeDir(context.WithoutCancel(ctx), lk.run, lk.Dir, lk.Hosts)
}

// Holders reads the lock info on each host. Hosts without a readable lock
// are absent from the result.
func (l *Locker) Holders(ctx context.Context, deployTo string, hosts []string) map[string]*LockInfo {
	return l.holders(ctx, path.Join(Dir(deployTo), InfoFile), hosts)
}

// ForceRelease removes the lock for deployTo regardless of who holds it.
func (l *Locker) ForceRelease(ctx context.Context, deployTo string, hosts []string) error {
	return removeDir(ctx, l.run, Dir(deployTo), hosts)
}

func (l *Locker) holders(ctx context.Context, infoFile string, hosts []string) map[string]*LockInfo {
	out := make(map[string]*LockInfo)
	results, err := l.run.Run(ctx, remote.Cmd("cat", infoFile), hosts)
	if err != nil {
		return out
	}
	for h, r := range results {
		if !r.OK() {
			continue
		}
		info, err := ParseLockInfo([]byte(r.Output()))
		if err != nil {
			continue
		}
		out[h] = info
	}
	return out
}

// step runs cmd and turns the first host failure into an error.
func (l *Locker) step(ctx context.Context, cmd remote.Command, hosts []string) error {
	results, err := l.run.Run(ctx, cmd, hosts)
	if err != nil {
		return err
	}
	return results.Error(cmd, errors.ErrDeployment)
}

func (l *Locker) release(ctx context.Context, dir string, hosts []string) {
	if len(hosts) == 0 {
		return
	}
	if err := removeDir(context.WithoutCancel(ctx), l.run, dir, hosts); err != nil {
		l.log.Error("releasing partial lock %s: %v", dir, err)
	}
}

func removeDir(ctx context.Context, run Runner, dir string, hosts []string) error {
	cmd := remote.Cmd("rm", "-rf", dir)
	results, err := run.Run(ctx, cmd, hosts)
	if err != nil {
		return err
	}
	return results.Error(cmd, errors.ErrDeployment)
}

func lockedError(dir string, busy []string, holders map[string]*LockInfo, timeout time.Duration) error {
	sort.Strings(busy)
	var held []string
	orphans := 0
	for _, h := range busy {
		who := "unknown (no readable " + InfoFile + ")"
		if info := holders[h]; info != nil {
			who = info.String()
		} else {
			orphans++
		}
		held = append(held, h+": "+who)
	}
	suggestion := "Held by " + strings.Join(held, "; ") + ". Wait for it to finish, or run 'releasectl unlock' if the holder is gone."
	if orphans == len(busy) {
		suggestion = "Held by " + strings.Join(held, "; ") + ". A lock without holder info is usually left by a run that crashed while locking; " +
			"run 'releasectl unlock' to remove it, or set lock.stale so it is cleared automatically."
	}
	return errors.WrapWithCode(ErrLocked, errors.ErrDeployment,
		fmt.Sprintf("Timed out after %s waiting for %s", timeout, dir), suggestion)
}
