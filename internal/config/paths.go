package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// appName names the per-user config and data directories.
const appName = "jobvault"

const configFileName = "config.toml"

// dirs is the pair of per-user directories jobvault reads and writes.
type dirs struct {
	config string // config.toml
	data   string // stored credentials
}

// platformDirs resolves the directories for goos. Linux and the BSDs follow
// the XDG base directory spec; macOS keeps both under Application Support.
func platformDirs(goos, home string, getenv func(string) string) dirs {
	if goos == "darwin" {
		d := filepath.Join(home, "Library", "Application Support", appName)
		return dirs{config: d, data: d}
	}

	configHome := getenv("XDG_CONFIG_HOME")
	if configHome == "" || !filepath.IsAbs(configHome) {
		configHome = filepath.Join(home, ".config")
	}

	dataHome := getenv("XDG_DATA_HOME")
	if dataHome == "" || !filepath.IsAbs(dataHome) {
		dataHome = filepath.Join(home, ".local", "share")
	}

	return dirs{
		config: filepath.Join(configHome, appName),
		data:   filepath.Join(dataHome, appName),
	}
}

func userDirs() (dirs, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return dirs{}, false
	}

	return platformDirs(runtime.GOOS, home, os.Getenv), true
}

// DefaultConfigDir returns the per-user config directory, or "" when the
// home directory is unknown.
func DefaultConfigDir() string {
	d, ok := userDirs()
	if !ok {
		return ""
	}

	return d.config
}

// DefaultDataDir returns the per-user data directory, where credentials are
// stored unless credentials.path says otherwise.
func DefaultDataDir() string {
	d, ok := userDirs()
	if !ok {
		return ""
	}

	return d.data
}

// DefaultConfigPath returns the config file used when neither
// JOBVAULT_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
