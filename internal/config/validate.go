package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Validate checks all configuration values and returns every error found,
// not just the first.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateCredentials(&cfg.Credentials)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only hold after env and CLI
// overrides have been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	errs = append(errs, validateAPI(&r.API)...)

	if !filepath.IsAbs(r.Credentials.Path) {
		errs = append(errs, fmt.Errorf("credentials.path: must be absolute after expansion, got %q",
			r.Credentials.Path))
	}

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	if a.BaseURL == "" {
		return []error{errors.New("api.base_url: must not be empty")}
	}

	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return []error{fmt.Errorf("api.base_url: %w", err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("api.base_url: must be an http or https URL, got %q", a.BaseURL)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil {
		return []error{fmt.Errorf("network.timeout: invalid duration %q: %w", n.Timeout, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("network.timeout: must be >= 0, got %s", d)}
	}

	return nil
}

var validBackends = map[string]bool{
	"file":   true,
	"sqlite": true,
}

func validateCredentials(c *CredentialsConfig) []error {
	if !validBackends[c.Backend] {
		return []error{fmt.Errorf("credentials.backend: must be one of file, sqlite; got %q", c.Backend)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
