package remote

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/releasectl/internal/errors"
)

// Result is the outcome of one command on one host.
type Result struct {
	Host     string
	ExitCode int
	Stdout   []string
	Stderr   []string

	// Err is set when the command could not run to completion (dial
	// failure, timeout, missing executable). A plain non-zero exit leaves
	// it nil and is reported through ExitCode.
	Err error

	Duration time.Duration
}

// OK reports whether the command ran and exited zero.
func (r *Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Clean reports whether the command succeeded without writing to stderr.
// Undo treats any error-channel output as a host failure.
func (r *Result) Clean() bool {
	return r.OK() && len(r.Stderr) == 0
}

// Output returns stdout joined with newlines.
func (r *Result) Output() string {
	return strings.Join(r.Stdout, "\n")
}

// Results maps host name to its result.
type Results map[string]*Result

// Hosts returns the host names, sorted.
func (rs Results) Hosts() []string {
	hosts := make([]string, 0, len(rs))
	for h := range rs {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Failed returns the sorted hosts whose command did not succeed.
func (rs Results) Failed() []string {
	var failed []string
	for _, h := range rs.Hosts() {
		if !rs[h].OK() {
			failed = append(failed, h)
		}
	}
	return failed
}

// AllOK reports whether every host succeeded.
func (rs Results) AllOK() bool {
	return len(rs.Failed()) == 0
}

// FirstErr returns the execution error of the first failed host in name
// order, if any host failed to execute at all.
func (rs Results) FirstErr() error {
	for _, h := range rs.Hosts() {
		if rs[h].Err != nil {
			return rs[h].Err
		}
	}
	return nil
}

// Error returns an error for the first failed host in name order, or nil.
// Execution errors are returned as they are; a non-zero exit becomes a
// code error carrying the host's stderr as suggestion.
func (rs Results) Error(cmd Command, code string) error {
	for _, h := range rs.Failed() {
		r := rs[h]
		if r.Err != nil {
			return r.Err
		}
		return errors.New(code,
			fmt.Sprintf("'%s' exited %d", cmd, r.ExitCode),
			strings.Join(r.Stderr, "\n")).OnHost(h)
	}
	return nil
}
