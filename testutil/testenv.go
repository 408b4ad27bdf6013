// Package testutil provides shared environment helpers for E2E tests. It
// depends only on stdlib so that E2E tests (which cannot import internal/)
// can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	EnvServer         = "JOBVAULT_E2E_API_URL"
	EnvAllowedServers = "JOBVAULT_ALLOWED_TEST_SERVERS"
	EnvEmail          = "JOBVAULT_E2E_EMAIL"
	EnvPassword       = "JOBVAULT_E2E_PASSWORD"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process unless the server named by
// JOBVAULT_E2E_API_URL appears in JOBVAULT_ALLOWED_TEST_SERVERS, and returns
// that server. The suite uploads and deletes resumes, so it must only reach
// a server someone opted in.
func ValidateAllowlist() string {
	allowlist := os.Getenv(EnvAllowedServers)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvAllowedServers)
		fmt.Fprintln(os.Stderr, "Example: "+EnvAllowedServers+"=http://localhost:8000")
		os.Exit(1)
	}

	server := strings.TrimRight(os.Getenv(EnvServer), "/")
	if server == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvServer)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimRight(strings.TrimSpace(a), "/") == server {
			return server
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n", EnvServer, server, EnvAllowedServers, allowlist)
	os.Exit(1)

	return ""
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// MinimalPDF returns a tiny well-formed PDF whose body embeds marker, so
// uploads from different runs are distinguishable.
func MinimalPDF(marker string) []byte {
	return []byte("%PDF-1.4\n" +
		"1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n" +
		"2 0 obj << /Type /Pages /Kids [] /Count 0 >> endobj\n" +
		"% " + marker + "\n" +
		"trailer << /Root 1 0 R >>\n%%EOF\n")
}
