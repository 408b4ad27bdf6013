package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jobvault/jobvault/internal/api"
	"github.com/jobvault/jobvault/internal/config"
	"github.com/jobvault/jobvault/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagAPIURL     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a command needs. It is stored in the
// command's context by the root PersistentPreRunE.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Out    io.Writer
	ErrOut io.Writer
	In     io.Reader
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run.
// Commands only run after it, so a missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("jobvault: command run without CLI context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobvault",
		Short:   "Secure job platform CLI client",
		Long:    "Manage your job platform account, profile, and resumes from the command line.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "API base URL (overrides config and "+config.EnvAPIURL+")")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newResendCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPasswordResetCmd())
	cmd.AddCommand(newTwoFactorCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// setupCLIContext resolves configuration, builds the logger, and installs
// the CLIContext on the command's context.
func setupCLIContext(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("api-url") {
		cli.APIURL = &flagAPIURL
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	logger, err := buildLogger(resolved, flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cc := &CLIContext{
		Flags:  flags,
		Cfg:    resolved,
		Logger: logger,
		Out:    cmd.OutOrStdout(),
		ErrOut: cmd.ErrOrStderr(),
		In:     cmd.InOrStdin(),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger from the resolved config and CLI flags.
// The config-file level is the baseline; --verbose and --quiet override it.
// Log format "auto" picks text on a terminal and JSON otherwise.
func buildLogger(cfg *config.Resolved, flags CLIFlags, stderr io.Writer) (*slog.Logger, error) {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	w := stderr
	format := "auto"

	if cfg != nil {
		format = cfg.Logging.LogFormat

		if cfg.Logging.LogFile != "" {
			f, err := os.OpenFile(cfg.Logging.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:mnd // owner-only
			if err != nil {
				return nil, fmt.Errorf("opening log file: %w", err)
			}

			w = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// httpClient returns the HTTP client for API calls. A zero timeout leaves
// requests bounded only by their context.
func (cc *CLIContext) httpClient() *http.Client {
	hc := &http.Client{Timeout: cc.Cfg.Timeout}

	if cc.Cfg.Network.InsecureSkipVerify {
		cc.Logger.Warn("TLS certificate verification disabled")

		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for local servers
		hc.Transport = tr
	}

	return hc
}

func (cc *CLIContext) userAgent() string {
	if cc.Cfg.API.UserAgent != "" {
		return cc.Cfg.API.UserAgent
	}

	return "jobvault/" + version
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(err))
	os.Exit(1)
}

// describeError turns errors the user can act on into a hint.
func describeError(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return "session expired; run 'jobvault login'"
	case errors.Is(err, api.ErrNotAuthenticated):
		return "not logged in; run 'jobvault login' first"
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg := apiErr.Message
		if apiErr.RequestID != "" {
			msg += " (request-id: " + apiErr.RequestID + ")"
		}

		return msg
	}

	return strings.TrimPrefix(err.Error(), "api: ")
}
