package config

import (
	"sort"
	"time"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete releasectl.yaml configuration file.
// It is loaded once at process start and treated as read-only afterwards.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// RunAs is the service account remote commands run as (via sudo -u).
	// Empty means commands run as the SSH login user.
	RunAs string `yaml:"run_as" mapstructure:"run_as"`

	// SSHUser is the login user for hosts whose alias does not name one.
	SSHUser string `yaml:"ssh_user" mapstructure:"ssh_user"`

	// InsecureIgnoreHostKey disables known_hosts verification.
	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key" mapstructure:"insecure_ignore_host_key"`

	Remote  RemoteConfig  `yaml:"remote" mapstructure:"remote"`
	Lock    LockConfig    `yaml:"lock" mapstructure:"lock"`
	Logs    LogsConfig    `yaml:"logs" mapstructure:"logs"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	Hosts        map[string]Host        `yaml:"hosts" mapstructure:"hosts"`
	Environments map[string]Environment `yaml:"environments" mapstructure:"environments"`
	Applications map[string]Application `yaml:"applications" mapstructure:"applications"`
	Repositories map[string]Repository  `yaml:"repositories" mapstructure:"repositories"`
}

// Host holds connection settings for a named host.
type Host struct {
	// SSH connection strings, tried in order until one succeeds.
	// Can be: hostname, user@hostname, or SSH config alias.
	// When empty the host name itself is dialed.
	SSH []string `yaml:"ssh" mapstructure:"ssh"`
}

// Aliases returns the connection strings to try for a host named name.
func (h Host) Aliases(name string) []string {
	if len(h.SSH) == 0 {
		return []string{name}
	}
	return h.SSH
}

// Environment is a named deployment target and its ordered host list.
type Environment struct {
	Label string   `yaml:"label" mapstructure:"label"`
	Hosts []string `yaml:"hosts" mapstructure:"hosts"`
}

// Application describes a deployable application.
type Application struct {
	Label string `yaml:"label" mapstructure:"label"`

	// Repository names an entry of Config.Repositories.
	Repository string `yaml:"repository" mapstructure:"repository"`
}

// Repository is the central git server holding one bare repo per application.
type Repository struct {
	// Host is the host name git metadata commands run on.
	Host string `yaml:"host" mapstructure:"host"`

	// Path is the directory holding <app> bare repositories on Host.
	Path string `yaml:"path" mapstructure:"path"`

	// URL is the clone URL prefix target hosts fetch from; <app> is appended.
	URL string `yaml:"url" mapstructure:"url"`
}

// RemoteConfig controls remote command execution.
type RemoteConfig struct {
	// Timeout bounds each remote command invocation.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// ConnectTimeout bounds SSH connection setup.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// Parallel caps concurrent hosts per fan-out. Zero means all at once.
	Parallel int `yaml:"parallel" mapstructure:"parallel"`

	// WebGroup owns the writable cache directories of deployed apps.
	WebGroup string `yaml:"web_group" mapstructure:"web_group"`

	// KeepReleases is how many non-quarantined releases survive cleanup.
	KeepReleases int `yaml:"keep_releases" mapstructure:"keep_releases"`
}

// LockConfig controls the per-host deploy lock taken around mutating commands.
type LockConfig struct {
	// Enabled toggles locking on/off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Timeout is how long to wait for a lock before giving up.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Stale is when to consider a lock stale (holder probably crashed).
	Stale time.Duration `yaml:"stale" mapstructure:"stale"`
}

// LogsConfig controls archived operation journals.
type LogsConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	KeepRuns int    `yaml:"keep_runs" mapstructure:"keep_runs"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after every run when non-empty.
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Remote: RemoteConfig{
			Timeout:        5 * time.Minute,
			ConnectTimeout: 10 * time.Second,
			WebGroup:       "apache",
			KeepReleases:   5,
		},
		Lock: LockConfig{
			Enabled: true,
			Timeout: 2 * time.Minute,
			Stale:   30 * time.Minute,
		},
		Logs: LogsConfig{
			Dir:      "~/.releasectl/logs",
			KeepRuns: 50,
		},
		Hosts:        make(map[string]Host),
		Environments: make(map[string]Environment),
		Applications: make(map[string]Application),
		Repositories: make(map[string]Repository),
	}
}

// EnvironmentNames returns the configured environment names, sorted.
func (c *Config) EnvironmentNames() []string {
	return sortedKeys(c.Environments)
}

// ApplicationNames returns the configured application names, sorted.
func (c *Config) ApplicationNames() []string {
	return sortedKeys(c.Applications)
}

// RepositoryFor returns the repository an application deploys from.
func (c *Config) RepositoryFor(app string) (Repository, bool) {
	a, ok := c.Applications[app]
	if !ok {
		return Repository{}, false
	}
	repo, ok := c.Repositories[a.Repository]
	return repo, ok
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
