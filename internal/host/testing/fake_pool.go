// Package testing provides test doubles for the host package.
package testing

import (
	"context"
	"sort"
	"sync"

	"github.com/rileyhilliard/releasectl/pkg/sshutil"
	sstesting "github.com/rileyhilliard/releasectl/pkg/sshutil/testing"
)

// FakePool hands out mock clients instead of dialing SSH. Clients are
// created on first use so tests can seed them before or after wiring.
type FakePool struct {
	mu       sync.Mutex
	clients  map[string]*sstesting.MockClient
	failures map[string]error

	// Connects records every Connect call, for assertions.
	Connects []string
}

// NewFakePool creates a pool with a mock client for each host.
func NewFakePool(hosts ...string) *FakePool {
	p := &FakePool{
		clients:  make(map[string]*sstesting.MockClient),
		failures: make(map[string]error),
	}
	for _, h := range hosts {
		p.Client(h)
	}
	return p
}

// Client returns the mock client of host, creating it if needed.
func (p *FakePool) Client(host string) *sstesting.MockClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientLocked(host)
}

func (p *FakePool) clientLocked(host string) *sstesting.MockClient {
	c, ok := p.clients[host]
	if !ok {
		c = sstesting.NewMockClient(host)
		p.clients[host] = c
	}
	return c
}

// Fail makes connections to host return err.
func (p *FakePool) Fail(host string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[host] = err
}

// Each calls fn for every host client, in host name order.
func (p *FakePool) Each(fn func(host string, c *sstesting.MockClient)) {
	p.mu.Lock()
	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	p.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		fn(name, p.Client(name))
	}
}

// CommandCount returns the number of commands sent to all hosts.
func (p *FakePool) CommandCount() int {
	n := 0
	p.Each(func(_ string, c *sstesting.MockClient) {
		n += len(c.Commands())
	})
	return n
}

// Connect implements remote.Dialer.
func (p *FakePool) Connect(ctx context.Context, host string) (sshutil.SSHClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Connects = append(p.Connects, host)
	if err, ok := p.failures[host]; ok {
		return nil, err
	}
	return p.clientLocked(host), nil
}

// Close closes every client.
func (p *FakePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		_ = c.Close()
	}
	return nil
}
