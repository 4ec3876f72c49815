package config

import (
	"os"
	"path/filepath"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "releasectl.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/releasectl"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvConfigPath overrides the search when set.
	EnvConfigPath = "RELEASECTL_CONFIG"
)

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Specify one with --config or create "+ConfigFileName)
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
//  1. Explicit path (from --config flag)
//  2. $RELEASECTL_CONFIG
//  3. releasectl.yaml in the current directory or its parents (stops at home)
//  4. ~/.config/releasectl/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvConfigPath)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	home, _ := os.UserHomeDir()
	for dir := cwd; ; {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir || (home != "" && dir == home) {
			break
		}
		dir = parent
	}

	if home != "" {
		globalConfig := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// LoadFound finds and loads the config. Every command needs the environment
// table, so a missing file is an error.
func LoadFound(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return nil, "", errors.New(errors.ErrConfig,
			"No releasectl config found",
			"Create "+ConfigFileName+" or pass --config <path>")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	cfg.Logs.Dir = ExpandPath(cfg.Logs.Dir)
	cfg.Metrics.Textfile = ExpandPath(cfg.Metrics.Textfile)

	return cfg, nil
}

// setDefaults registers defaults so partially specified sections keep them.
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("version", def.Version)
	v.SetDefault("remote.timeout", def.Remote.Timeout.String())
	v.SetDefault("remote.connect_timeout", def.Remote.ConnectTimeout.String())
	v.SetDefault("remote.web_group", def.Remote.WebGroup)
	v.SetDefault("remote.keep_releases", def.Remote.KeepReleases)
	v.SetDefault("lock.enabled", def.Lock.Enabled)
	v.SetDefault("lock.timeout", def.Lock.Timeout.String())
	v.SetDefault("lock.stale", def.Lock.Stale.String())
	v.SetDefault("logs.dir", def.Logs.Dir)
	v.SetDefault("logs.keep_runs", def.Logs.KeepRuns)
}
