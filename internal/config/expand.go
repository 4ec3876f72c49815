package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a local path from the config file: a leading ~ and
// the ${USER} and ${HOME} variables. Other ${...} references are left as
// written. Used for logs.dir and metrics.textfile, never for remote paths.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.Expand(p, func(name string) string {
		switch name {
		case "USER":
			return localUser()
		case "HOME":
			return homeDir()
		default:
			return "${" + name + "}"
		}
	})
	if p == "~" || strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), strings.TrimPrefix(p, "~"))
	}
	return p
}

func localUser() string {
	for _, key := range []string{"USER", "LOGNAME", "USERNAME"} {
		if user := os.Getenv(key); user != "" {
			return user
		}
	}
	return "user"
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "~"
}
