package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands environment variables, then a leading ~, so config
// values like "$XDG_DATA_HOME/crm.db" and "~/crm.db" both work.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}

// AppName is the directory name used under the XDG base directories.
const AppName = "crmsync"

// ConfigDir returns $XDG_CONFIG_HOME/crmsync, falling back to ~/.config/crmsync.
func ConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/crmsync, falling back to ~/.local/share/crmsync.
func DataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// CacheDir returns $XDG_CACHE_HOME/crmsync, falling back to ~/.cache/crmsync.
func CacheDir() (string, error) {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

func xdgDir(env string, fallback ...string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, AppName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{homeDir}, fallback...), AppName)...), nil
}
