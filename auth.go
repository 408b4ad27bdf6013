package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobvault/jobvault/internal/api"
	"github.com/jobvault/jobvault/internal/enroll"
)

// maxCodeAttempts bounds the interactive verification prompt.
const maxCodeAttempts = 3

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and verify it with the emailed code",
		Long: `Create a new account. The password is read from the terminal, or from
stdin when it is not a terminal. A 6-digit code is emailed to the address;
in an interactive session you are prompted for it, otherwise run
'jobvault verify --email EMAIL CODE'.`,
		RunE: runRegister,
	}

	cmd.Flags().String("email", "", "account email address")
	cmd.Flags().String("name", "", "full name")

	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify CODE",
		Short: "Verify a registration with the emailed 6-digit code",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}

	cmd.Flags().String("email", "", "registered email address")

	return cmd
}

func newResendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Send a new verification code",
		Args:  cobra.NoArgs,
		RunE:  runResend,
	}

	cmd.Flags().String("email", "", "registered email address")

	return cmd
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}

	cmd.Flags().String("email", "", "account email address")
	cmd.Flags().String("totp", "", "code from your authenticator app, if two-factor is enabled")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved credentials",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func newPasswordResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password-reset",
		Short: "Reset a forgotten password",
	}

	request := &cobra.Command{
		Use:   "request",
		Short: "Email a password reset code",
		Args:  cobra.NoArgs,
		RunE:  runPasswordResetRequest,
	}
	request.Flags().String("email", "", "account email address")

	confirm := &cobra.Command{
		Use:   "confirm CODE",
		Short: "Set a new password using the emailed code",
		Args:  cobra.ExactArgs(1),
		RunE:  runPasswordResetConfirm,
	}
	confirm.Flags().String("email", "", "account email address")

	cmd.AddCommand(request, confirm)

	return cmd
}

// flagOrPrompt returns the flag value, prompting for it when empty.
func flagOrPrompt(cmd *cobra.Command, cc *CLIContext, name, label string) (string, error) {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", err
	}

	if v != "" || !stdinIsTerminal() {
		return v, nil
	}

	return cc.promptLine(label)
}

func runRegister(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	email, err := flagOrPrompt(cmd, cc, "email", "Email: ")
	if err != nil {
		return err
	}

	name, err := flagOrPrompt(cmd, cc, "name", "Full name: ")
	if err != nil {
		return err
	}

	password, err := cc.promptPassword("Password: ")
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		if err := app.Enroll.SubmitRegistration(ctx, email, password, name); err != nil {
			return err
		}

		cc.Statusf("Registration successful. A verification code was sent to %s.\n", email)

		if !stdinIsTerminal() {
			cc.Statusf("Run 'jobvault verify --email %s CODE' to activate the account.\n", email)
			return nil
		}

		return promptVerification(ctx, cc, app.Enroll)
	})
}

// promptVerification asks for the emailed code until it is accepted or the
// attempts run out. A rejected code leaves the registration pending.
func promptVerification(ctx context.Context, cc *CLIContext, m *enroll.Machine) error {
	var lastErr error

	for range maxCodeAttempts {
		code, err := cc.promptLine("Verification code: ")
		if err != nil {
			return err
		}

		lastErr = m.SubmitVerificationCode(ctx, "", code)
		if lastErr == nil {
			cc.Statusf("Account verified. You are now logged in.\n")
			return nil
		}

		if !errors.Is(lastErr, enroll.ErrInvalidCode) && !errors.Is(lastErr, api.ErrBadRequest) {
			return lastErr
		}

		cc.Statusf("%s\n", describeError(lastErr))
	}

	pending, _ := m.Pending()

	return fmt.Errorf("%w; run 'jobvault verify --email %s CODE' or 'jobvault resend --email %s'",
		lastErr, pending.Email, pending.Email)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	email, err := flagOrPrompt(cmd, cc, "email", "Email: ")
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		if err := app.Enroll.AwaitVerification(email); err != nil {
			return err
		}

		if err := app.Enroll.SubmitVerificationCode(ctx, email, args[0]); err != nil {
			return err
		}

		cc.Statusf("Account verified. You are now logged in.\n")

		return nil
	})
}

func runResend(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	email, err := flagOrPrompt(cmd, cc, "email", "Email: ")
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		if err := app.Enroll.AwaitVerification(email); err != nil {
			return err
		}

		if err := app.Enroll.ResendCode(ctx); err != nil {
			return err
		}

		cc.Statusf("A new verification code was sent to %s.\n", email)

		return nil
	})
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	email, err := flagOrPrompt(cmd, cc, "email", "Email: ")
	if err != nil {
		return err
	}

	totp, err := cmd.Flags().GetString("totp")
	if err != nil {
		return err
	}

	password, err := cc.promptPassword("Password: ")
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		if totp != "" {
			err = app.Enroll.LoginWithSecondFactor(ctx, email, password, totp)
		} else {
			err = app.Enroll.Login(ctx, email, password)
		}

		if err != nil {
			return err
		}

		cc.Logger.Info("login successful", "email", email)
		cc.Statusf("Logged in as %s.\n", email)

		return nil
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	return withApp(ctx, cc, func(app *App) error {
		if err := app.Session.Logout(ctx); err != nil {
			return err
		}

		cc.Statusf("Logged out.\n")

		return nil
	})
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	Verified  bool   `json:"verified"`
	Active    bool   `json:"active"`
	Suspended bool   `json:"suspended"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	return withApp(ctx, cc, func(app *App) error {
		id, err := app.Client.Me(ctx)
		if err != nil {
			return fmt.Errorf("fetching account: %w", err)
		}

		if cc.Flags.JSON {
			return printJSON(cc.Out, whoamiOutput{
				ID:        id.ID,
				Email:     id.Email,
				FullName:  id.FullName,
				Role:      string(id.Role),
				Verified:  id.Verified,
				Active:    id.Active,
				Suspended: id.Suspended,
			})
		}

		fmt.Fprintf(cc.Out, "User:     %s (%s)\n", id.FullName, id.Email)
		fmt.Fprintf(cc.Out, "ID:       %d\n", id.ID)
		fmt.Fprintf(cc.Out, "Role:     %s\n", id.Role)
		fmt.Fprintf(cc.Out, "Verified: %s\n", yesNo(id.Verified))
		fmt.Fprintf(cc.Out, "Created:  %s\n", formatTime(id.CreatedAt))

		return nil
	})
}

func runPasswordResetRequest(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	email, err := flagOrPrompt(cmd, cc, "email", "Email: ")
	if err != nil {
		return err
	}

	if email == "" {
		return fmt.Errorf("%w: email", enroll.ErrMissingField)
	}

	return withApp(ctx, cc, func(app *App) error {
		msg, err := app.Client.RequestPasswordReset(ctx, email)
		if err != nil {
			return err
		}

		cc.Statusf("%s\n", msg)

		return nil
	})
}

func runPasswordResetConfirm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	email, err := flagOrPrompt(cmd, cc, "email", "Email: ")
	if err != nil {
		return err
	}

	if email == "" {
		return fmt.Errorf("%w: email", enroll.ErrMissingField)
	}

	password, err := cc.promptPassword("New password: ")
	if err != nil {
		return err
	}

	if password == "" {
		return fmt.Errorf("%w: password", enroll.ErrMissingField)
	}

	return withApp(ctx, cc, func(app *App) error {
		msg, err := app.Client.ConfirmPasswordReset(ctx, email, args[0], password)
		if err != nil {
			return err
		}

		cc.Statusf("%s\n", msg)

		return nil
	})
}
