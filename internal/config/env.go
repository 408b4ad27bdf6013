package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "JOBVAULT_CONFIG"
	EnvAPIURL  = "JOBVAULT_API_URL"
	EnvDataDir = "JOBVAULT_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // JOBVAULT_CONFIG: override config file path
	APIURL     string // JOBVAULT_API_URL: API base URL
	DataDir    string // JOBVAULT_DATA_DIR: where credentials live by default
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		APIURL:     os.Getenv(EnvAPIURL),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
