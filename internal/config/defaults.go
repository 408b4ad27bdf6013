package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultBaseURL   = "http://localhost:8000"
	defaultTimeout   = "0"
	defaultBackend   = "file"
	defaultLogLevel  = "warn"
	defaultLogFormat = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: defaultBaseURL,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
		Credentials: CredentialsConfig{
			Backend: defaultBackend,
			Watch:   true,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
