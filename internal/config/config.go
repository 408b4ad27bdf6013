// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for jobvault. Values are layered:
// defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API         APIConfig         `toml:"api"`
	Network     NetworkConfig     `toml:"network"`
	Credentials CredentialsConfig `toml:"credentials"`
	Logging     LoggingConfig     `toml:"logging"`
}

// APIConfig locates the remote API.
type APIConfig struct {
	BaseURL   string `toml:"base_url"`
	UserAgent string `toml:"user_agent"`
}

// NetworkConfig controls the HTTP client. A zero timeout means requests are
// bounded only by their context.
type NetworkConfig struct {
	Timeout            string `toml:"timeout"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// CredentialsConfig selects where the credential pair is persisted.
// An empty path resolves to a file under the data directory.
type CredentialsConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Watch   bool   `toml:"watch"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit empty value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	APIURL     *string // --api-url flag
}
