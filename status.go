package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jobvault/jobvault/internal/api"
	"github.com/jobvault/jobvault/internal/session"
)

// Credential state constants for status reporting.
const (
	credStateMissing = "missing"
	credStateExpired = "expired"
	credStateValid   = "valid"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session and credential status",
		Long: `Display whether credentials are stored, when the access credential
expires, and where credentials are kept. With --check the server is asked
for the account and profile statistics; an expired access credential is
renewed once on the way.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().Bool("check", false, "contact the server to confirm the session")

	return cmd
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Status          string    `json:"status"`
	CredentialState string    `json:"credential_state"`
	Expiry          time.Time `json:"expiry,omitzero"`
	HasRefresh      bool      `json:"has_refresh_credential"`
	Backend         string    `json:"credentials_backend"`
	Path            string    `json:"credentials_path"`
	API             string    `json:"api"`
	Email           string    `json:"email,omitempty"`
	ProfileViews    *int64    `json:"profile_views,omitempty"`
}

func credentialState(snap session.Snapshot, now time.Time) string {
	switch {
	case snap.Status != session.Authenticated:
		return credStateMissing
	case !snap.Expiry.IsZero() && now.After(snap.Expiry):
		return credStateExpired
	default:
		return credStateValid
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	check, err := cmd.Flags().GetBool("check")
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		snap, err := app.Session.Snapshot(ctx)
		if err != nil {
			return err
		}

		out := statusOutput{
			Status:          snap.Status.String(),
			CredentialState: credentialState(snap, time.Now()),
			Expiry:          snap.Expiry,
			HasRefresh:      snap.HasRefreshCredential,
			Backend:         cc.Cfg.Credentials.Backend,
			Path:            cc.Cfg.Credentials.Path,
			API:             cc.Cfg.API.BaseURL,
		}

		if check && snap.Status == session.Authenticated {
			id, stats, err := fetchAccount(ctx, app.Client)
			if err != nil {
				return err
			}

			out.Email = id.Email
			out.ProfileViews = &stats.ProfileViews

			// Renewal during the check may have replaced the credential.
			if snap, err = app.Session.Snapshot(ctx); err == nil {
				out.Status = snap.Status.String()
				out.CredentialState = credentialState(snap, time.Now())
				out.Expiry = snap.Expiry
			}
		}

		if cc.Flags.JSON {
			return printJSON(cc.Out, out)
		}

		printStatusText(cc, &out)

		return nil
	})
}

// fetchAccount loads the identity and profile statistics concurrently. If
// the access credential has expired both calls are rejected, and the
// session renews it once for both.
func fetchAccount(ctx context.Context, client *api.Client) (*api.Identity, *api.ProfileStats, error) {
	var (
		id    *api.Identity
		stats *api.ProfileStats
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		id, err = client.Me(gctx)

		return err
	})

	g.Go(func() error {
		var err error
		stats, err = client.ProfileStats(gctx)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return id, stats, nil
}

func printStatusText(cc *CLIContext, out *statusOutput) {
	fmt.Fprintf(cc.Out, "Session:     %s\n", out.Status)
	fmt.Fprintf(cc.Out, "Credentials: %s", out.CredentialState)

	if !out.Expiry.IsZero() {
		fmt.Fprintf(cc.Out, " (access expires %s)", formatRelative(out.Expiry))
	}

	fmt.Fprintln(cc.Out)
	fmt.Fprintf(cc.Out, "Refresh:     %s\n", yesNo(out.HasRefresh))
	fmt.Fprintf(cc.Out, "Stored in:   %s (%s)\n", out.Path, out.Backend)
	fmt.Fprintf(cc.Out, "API:         %s\n", out.API)

	if out.Email != "" {
		fmt.Fprintf(cc.Out, "Account:     %s\n", out.Email)
	}

	if out.ProfileViews != nil {
		fmt.Fprintf(cc.Out, "Views:       %d\n", *out.ProfileViews)
	}
}
