package host

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/internal/release"
)

// Resolver maps an environment and an optional explicit host list to the
// hosts an operation targets.
type Resolver struct {
	envs map[string]config.Environment
	log  logger.Logger
}

// NewResolver creates a resolver over the configured environments.
func NewResolver(cfg *config.Config, log logger.Logger) *Resolver {
	return &Resolver{
		envs: cfg.Environments,
		log:  logger.OrDefault(log),
	}
}

// Resolve returns the target hosts of env.
//
// Without an explicit list every predefined host of env is returned in
// config order. With one ("[a, b]"), the result is the explicit names that
// are predefined for env, in the order given, without duplicates. Unknown
// names are dropped with a warning. An empty result is not an error.
func (r *Resolver) Resolve(env, explicit string) ([]Host, error) {
	if !release.IsKnownEnvironment(env) {
		return nil, errors.New(errors.ErrEnvNotFound,
			fmt.Sprintf("Environment '%s' is unknown", env),
			"Known environments: "+strings.Join(release.Environments(), ", "))
	}
	predefined, ok := r.envs[env]
	if !ok {
		return nil, errors.New(errors.ErrEnvNotFound,
			fmt.Sprintf("Environment '%s' has no hosts configured", env),
			"Add it under 'environments' in "+config.ConfigFileName+".")
	}

	if strings.TrimSpace(explicit) == "" {
		return toHosts(predefined.Hosts), nil
	}

	allowed := make(map[string]bool, len(predefined.Hosts))
	for _, h := range predefined.Hosts {
		allowed[h] = true
	}

	var names []string
	seen := make(map[string]bool)
	for _, name := range ParseHostList(explicit) {
		if !allowed[name] {
			r.log.Warn("host '%s' is not part of %s, skipping", name, env)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	if len(names) == 0 {
		r.log.Warn("no valid hosts left for %s after filtering %s", env, explicit)
	}
	return toHosts(names), nil
}

// ParseHostList splits a bracketed, comma separated host list. Brackets and
// surrounding whitespace are optional.
func ParseHostList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

func toHosts(names []string) []Host {
	hosts := make([]Host, 0, len(names))
	for _, n := range names {
		hosts = append(hosts, Host{Name: n, Roles: []string{RoleApp}})
	}
	return hosts
}
