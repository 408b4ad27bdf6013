package main

import (
	"context"
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/jobvault/jobvault/internal/api"
	"github.com/jobvault/jobvault/internal/enroll"
)

func newTwoFactorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "2fa",
		Short: "Manage two-factor authentication",
	}

	enable := &cobra.Command{
		Use:   "enable",
		Short: "Start two-factor enrollment and show the authenticator secret",
		Args:  cobra.NoArgs,
		RunE:  runTwoFactorEnable,
	}
	enable.Flags().String("qr-png", "", "also write the server's QR code image to this file")

	verify := &cobra.Command{
		Use:   "verify CODE",
		Short: "Confirm two-factor enrollment with a code from the authenticator app",
		Args:  cobra.ExactArgs(1),
		RunE:  runTwoFactorVerify,
	}

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Turn two-factor authentication off (asks for your password)",
		Args:  cobra.NoArgs,
		RunE:  runTwoFactorDisable,
	}

	cmd.AddCommand(enable, verify, disable)

	return cmd
}

// restoredMachine returns the app's enrollment machine positioned at the
// stored session, so second-factor steps can run in a new process.
func restoredMachine(ctx context.Context, app *App) (*enroll.Machine, error) {
	if err := app.Enroll.Restore(ctx); err != nil {
		return nil, err
	}

	if app.Enroll.State() != enroll.Authenticated {
		return nil, api.ErrNotAuthenticated
	}

	return app.Enroll, nil
}

func runTwoFactorEnable(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	qrPath, err := cmd.Flags().GetString("qr-png")
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		m, err := restoredMachine(ctx, app)
		if err != nil {
			return err
		}

		setup, err := m.EnableSecondFactor(ctx)
		if err != nil {
			return err
		}

		if qrPath != "" && len(setup.QRCodePNG) > 0 {
			if err := os.WriteFile(qrPath, setup.QRCodePNG, 0o600); err != nil { //nolint:mnd // owner-only
				return fmt.Errorf("writing QR code: %w", err)
			}
		}

		if cc.Flags.JSON {
			return printJSON(cc.Out, map[string]string{
				"secret":           setup.Secret,
				"provisioning_uri": setup.ProvisioningURI,
			})
		}

		fmt.Fprintf(cc.Out, "Secret:           %s\n", setup.Secret)
		fmt.Fprintf(cc.Out, "Provisioning URI: %s\n", setup.ProvisioningURI)

		if isTerminal(cc.Out) {
			renderQR(cc, setup.ProvisioningURI)
		}

		if !stdinIsTerminal() {
			cc.Statusf("Add the secret to your authenticator app, then run 'jobvault 2fa verify CODE'.\n")
			return nil
		}

		code, err := cc.promptLine("Code from authenticator app: ")
		if err != nil {
			return err
		}

		if err := m.VerifySecondFactor(ctx, code); err != nil {
			cc.Statusf("Verification failed; retry with 'jobvault 2fa verify CODE'.\n")
			return err
		}

		cc.Statusf("Two-factor authentication enabled.\n")

		return nil
	})
}

// renderQR draws the provisioning URI as a terminal QR code.
func renderQR(cc *CLIContext, uri string) {
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		cc.Logger.Warn("could not render QR code", "error", err.Error())
		return
	}

	fmt.Fprintln(cc.Out)
	fmt.Fprint(cc.Out, qr.ToSmallString(false))
}

func runTwoFactorVerify(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	return withApp(ctx, cc, func(app *App) error {
		m, err := restoredMachine(ctx, app)
		if err != nil {
			return err
		}

		if err := m.AwaitSecondFactor(); err != nil {
			return err
		}

		if err := m.VerifySecondFactor(ctx, args[0]); err != nil {
			return err
		}

		cc.Statusf("Two-factor authentication enabled.\n")

		return nil
	})
}

func runTwoFactorDisable(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	password, err := cc.promptPassword("Password: ")
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		m, err := restoredMachine(ctx, app)
		if err != nil {
			return err
		}

		if err := m.DisableSecondFactor(ctx, password); err != nil {
			return err
		}

		cc.Statusf("Two-factor authentication disabled.\n")

		return nil
	})
}
