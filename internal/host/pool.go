package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/pkg/sshutil"
)

// DefaultConnectTimeout bounds each SSH alias attempt when the config
// leaves connect_timeout unset.
const DefaultConnectTimeout = 10 * time.Second

// DialFunc opens an SSH connection to an alias.
type DialFunc func(alias string, opts sshutil.DialOptions) (sshutil.SSHClient, error)

func dialSSH(alias string, opts sshutil.DialOptions) (sshutil.SSHClient, error) {
	client, err := sshutil.Dial(alias, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Pool dials hosts on first use and caches the connection for the rest of
// the operation. Each host's SSH aliases are tried in order until one works.
type Pool struct {
	hosts map[string]config.Host
	opts  sshutil.DialOptions
	dial  DialFunc
	log   logger.Logger

	mu    sync.Mutex
	conns map[string]sshutil.SSHClient
}

// NewPool creates a connection pool from the host and remote config.
func NewPool(cfg *config.Config, log logger.Logger) *Pool {
	timeout := cfg.Remote.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Pool{
		hosts: cfg.Hosts,
		opts: sshutil.DialOptions{
			Timeout:               timeout,
			User:                  cfg.SSHUser,
			InsecureIgnoreHostKey: cfg.InsecureIgnoreHostKey,
		},
		dial:  dialSSH,
		log:   logger.OrDefault(log),
		conns: make(map[string]sshutil.SSHClient),
	}
}

// SetDialFunc replaces the SSH dialer. Used by tests.
func (p *Pool) SetDialFunc(dial DialFunc) {
	p.dial = dial
}

// Connect returns the connection to host, dialing it if needed.
func (p *Pool) Connect(ctx context.Context, name string) (sshutil.SSHClient, error) {
	p.mu.Lock()
	if c, ok := p.conns[name]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	aliases := p.hosts[name].Aliases(name)
	var lastErr *ConnectError
	for _, alias := range aliases {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrRemoteAccess,
				fmt.Sprintf("Gave up connecting to '%s'", name), "").OnHost(name)
		}

		opts := p.opts
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < opts.Timeout {
				opts.Timeout = left
			}
		}

		p.log.Debug("connecting to %s via %s", name, alias)
		client, err := p.dial(alias, opts)
		if err != nil {
			lastErr = categorizeConnectError(alias, err)
			p.log.Debug("%s", lastErr)
			continue
		}

		return p.store(name, client), nil
	}

	return nil, errors.WrapWithCode(lastErr, errors.ErrRemoteAccess,
		fmt.Sprintf("Can't connect (tried %d %s: %s)", len(aliases), pluralAlias(len(aliases)), strings.Join(aliases, ", ")),
		lastErr.Reason.Suggestion()).OnHost(name)
}

// store caches client unless another goroutine won the race for the same
// host, in which case the spare connection is closed.
func (p *Pool) store(name string, client sshutil.SSHClient) sshutil.SSHClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[name]; ok {
		_ = client.Close()
		return existing
	}
	p.conns[name] = client
	return client
}

// Close closes every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, name)
	}
	return firstErr
}

func pluralAlias(n int) string {
	if n == 1 {
		return "alias"
	}
	return "aliases"
}

// ConnectError is a failed connection attempt with a categorized reason.
type ConnectError struct {
	Alias  string
	Reason ConnectFailReason
	Cause  error
}

// ConnectFailReason categorizes why a connection attempt failed.
type ConnectFailReason int

const (
	ConnectFailUnknown ConnectFailReason = iota
	ConnectFailTimeout
	ConnectFailRefused
	ConnectFailUnreachable
	ConnectFailAuth
	ConnectFailHostKey
)

// String returns a human-readable description of the failure reason.
func (r ConnectFailReason) String() string {
	switch r {
	case ConnectFailTimeout:
		return "connection timed out"
	case ConnectFailRefused:
		return "connection refused"
	case ConnectFailUnreachable:
		return "host unreachable"
	case ConnectFailAuth:
		return "authentication failed"
	case ConnectFailHostKey:
		return "host key verification failed"
	default:
		return "unknown error"
	}
}

// Suggestion returns a fix for the failure reason.
func (r ConnectFailReason) Suggestion() string {
	switch r {
	case ConnectFailTimeout, ConnectFailUnreachable:
		return "Check the host is up and reachable from here (VPN, bastion, firewall)."
	case ConnectFailRefused:
		return "sshd isn't accepting connections on that port."
	case ConnectFailAuth:
		return "Check the deploy key is loaded (ssh-add -l) and ssh_user is right."
	case ConnectFailHostKey:
		return "The host key changed or is unknown. Verify it, then update ~/.ssh/known_hosts."
	default:
		return "Try connecting manually with ssh to see the full error."
	}
}

func (e *ConnectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connect %s failed: %s (%v)", e.Alias, e.Reason, e.Cause)
	}
	return fmt.Sprintf("connect %s failed: %s", e.Alias, e.Reason)
}

func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// categorizeConnectError converts a dial error into a ConnectError with a
// categorized failure reason.
func categorizeConnectError(alias string, err error) *ConnectError {
	ce := &ConnectError{
		Alias:  alias,
		Reason: ConnectFailUnknown,
		Cause:  err,
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out"):
		ce.Reason = ConnectFailTimeout
	case strings.Contains(errStr, "connection refused"):
		ce.Reason = ConnectFailRefused
	case strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "host is down") ||
		strings.Contains(errStr, "no such host"):
		ce.Reason = ConnectFailUnreachable
	case strings.Contains(errStr, "unable to authenticate") ||
		strings.Contains(errStr, "no supported methods") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "authentication failed"):
		ce.Reason = ConnectFailAuth
	case strings.Contains(errStr, "host key"):
		ce.Reason = ConnectFailHostKey
	}

	return ce
}
