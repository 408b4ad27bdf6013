package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	ew.printf("[api]\n")
	ew.printf("  base_url    = %q\n", r.API.BaseURL)

	if r.API.UserAgent != "" {
		ew.printf("  user_agent  = %q\n", r.API.UserAgent)
	}

	ew.printf("\n[network]\n")
	ew.printf("  timeout     = %q\n", r.Network.Timeout)

	if r.Network.InsecureSkipVerify {
		ew.printf("  insecure_skip_verify = true\n")
	}

	ew.printf("\n[credentials]\n")
	ew.printf("  backend     = %q\n", r.Credentials.Backend)
	ew.printf("  path        = %q\n", r.Credentials.Path)
	ew.printf("  watch       = %t\n", r.Credentials.Watch)

	ew.printf("\n[logging]\n")
	ew.printf("  log_level   = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format  = %q\n", r.Logging.LogFormat)

	if r.Logging.LogFile != "" {
		ew.printf("  log_file    = %q\n", r.Logging.LogFile)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
