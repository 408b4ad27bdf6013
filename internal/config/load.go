package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Credential file names under the data directory, per backend.
const (
	credentialsFileName = "credentials.json"
	credentialsDBName   = "credentials.db"
)

// Resolved is the effective configuration after every override layer.
type Resolved struct {
	ConfigPath  string
	DataDir     string
	API         APIConfig
	Network     NetworkConfig
	Timeout     time.Duration
	Credentials CredentialsConfig // Path is always set and absolute
	Logging     LoggingConfig
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Config file, or defaults if there is none
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Env and CLI overrides
	if env.APIURL != "" {
		cfg.API.BaseURL = env.APIURL
	}

	if cli.APIURL != nil {
		cfg.API.BaseURL = *cli.APIURL
	}

	dataDir := DefaultDataDir()
	if env.DataDir != "" {
		dataDir = expandTilde(env.DataDir)
	}

	resolved := &Resolved{
		ConfigPath:  cfgPath,
		DataDir:     dataDir,
		API:         cfg.API,
		Network:     cfg.Network,
		Credentials: cfg.Credentials,
		Logging:     cfg.Logging,
	}

	resolved.API.BaseURL = strings.TrimRight(resolved.API.BaseURL, "/")

	// Validate already accepted the duration.
	resolved.Timeout, _ = time.ParseDuration(cfg.Network.Timeout)

	// 4. Credentials path defaults under the data directory
	switch {
	case resolved.Credentials.Path != "":
		resolved.Credentials.Path = expandTilde(resolved.Credentials.Path)
	case resolved.Credentials.Backend == "sqlite":
		resolved.Credentials.Path = filepath.Join(dataDir, credentialsDBName)
	default:
		resolved.Credentials.Path = filepath.Join(dataDir, credentialsFileName)
	}

	// 5. Validate the merged result
	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
