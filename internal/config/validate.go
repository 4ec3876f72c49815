package config

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/release"
)

var accountPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// Validate checks the config for errors and returns structured error messages.
// Environment and application names must belong to the built-in catalog.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but releasectl only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade releasectl or lower the version field.")
	}

	if cfg.RunAs != "" && !accountPattern.MatchString(cfg.RunAs) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("run_as '%s' is not a valid account name", cfg.RunAs),
			"Use a plain unix user name like 'stork'.")
	}

	if len(cfg.Environments) == 0 {
		return errors.New(errors.ErrConfig,
			"No environments configured",
			"Add an 'environments' section mapping each environment to its hosts.")
	}

	for _, name := range cfg.EnvironmentNames() {
		if err := validateEnvironment(name, cfg.Environments[name]); err != nil {
			return err
		}
	}

	for name, host := range cfg.Hosts {
		if err := validateHost(name, host); err != nil {
			return err
		}
	}

	for _, name := range cfg.ApplicationNames() {
		if !release.IsKnownApplication(name) {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Application '%s' is not in the release catalog", name),
				"Known applications: "+strings.Join(release.Applications(), ", "))
		}
		app := cfg.Applications[name]
		if app.Repository != "" {
			if _, ok := cfg.Repositories[app.Repository]; !ok {
				return errors.New(errors.ErrConfig,
					fmt.Sprintf("Application '%s' uses unknown repository '%s'", name, app.Repository),
					"Add it under 'repositories' or fix the name.")
			}
		}
	}

	for name, repo := range cfg.Repositories {
		if err := validateRepository(name, repo); err != nil {
			return err
		}
	}

	if err := validateRemote(cfg.Remote); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'remote' section in "+ConfigFileName+".")
	}

	if err := validateLock(cfg.Lock); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'lock' section in "+ConfigFileName+".")
	}

	return nil
}

func validateEnvironment(name string, env Environment) error {
	if !release.IsKnownEnvironment(name) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Environment '%s' is not in the release catalog", name),
			"Known environments: "+strings.Join(release.Environments(), ", "))
	}
	if len(env.Hosts) == 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Environment '%s' has no hosts", name),
			"List at least one host under environments."+name+".hosts")
	}
	seen := make(map[string]bool)
	for _, h := range env.Hosts {
		if strings.TrimSpace(h) == "" || strings.ContainsAny(h, " ,[]") {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Environment '%s' lists an invalid host name %q", name, h),
				"Host names can't contain spaces, commas or brackets.")
		}
		if seen[h] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Environment '%s' lists host '%s' twice", name, h),
				"Remove the duplicate entry.")
		}
		seen[h] = true
	}
	return nil
}

func validateHost(name string, host Host) error {
	for _, alias := range host.SSH {
		if strings.TrimSpace(alias) == "" {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Host '%s' has an empty SSH alias", name),
				"Remove the empty entry or fill in a hostname.")
		}
	}
	return nil
}

func validateRepository(name string, repo Repository) error {
	if repo.Host == "" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Repository '%s' has no host", name),
			"Set repositories."+name+".host to the git server.")
	}
	if !path.IsAbs(repo.Path) || strings.Contains(repo.Path, "..") {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Repository '%s' path must be absolute, got %q", name, repo.Path),
			"Use the directory holding the bare repositories, e.g. /mnt/gitrepo/_origin.")
	}
	if repo.URL == "" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Repository '%s' has no clone url", name),
			"Set repositories."+name+".url, e.g. ssh://git@capistrano/mnt/gitrepo/_origin.")
	}
	return nil
}

func validateRemote(remote RemoteConfig) error {
	if remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive, got %s", remote.Timeout)
	}
	if remote.ConnectTimeout < 0 {
		return fmt.Errorf("remote.connect_timeout can't be negative")
	}
	if remote.Parallel < 0 {
		return fmt.Errorf("remote.parallel can't be negative")
	}
	if remote.KeepReleases < 2 {
		return fmt.Errorf("remote.keep_releases must be at least 2 so a rollback target survives, got %d", remote.KeepReleases)
	}
	if remote.WebGroup != "" && !accountPattern.MatchString(remote.WebGroup) {
		return fmt.Errorf("remote.web_group '%s' is not a valid group name", remote.WebGroup)
	}
	return nil
}

func validateLock(lock LockConfig) error {
	if !lock.Enabled {
		return nil
	}
	if lock.Timeout < 0 {
		return fmt.Errorf("lock.timeout can't be negative")
	}
	if lock.Stale <= 0 {
		return fmt.Errorf("lock.stale must be positive when locking is enabled")
	}
	return nil
}
