package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jobvault/jobvault/internal/api"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "View and edit your profile",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE:  runProfileShow,
	}

	update := &cobra.Command{
		Use:   "update",
		Short: "Change profile fields; only the flags you pass are sent",
		Args:  cobra.NoArgs,
		RunE:  runProfileUpdate,
	}
	update.Flags().String("headline", "", "profile headline")
	update.Flags().String("location", "", "location")
	update.Flags().String("bio", "", "short biography")
	update.Flags().Bool("show-email", false, "show your email on your public profile")
	update.Flags().Bool("show-phone", false, "show your phone on your public profile")
	update.Flags().Bool("show-location", false, "show your location on your public profile")
	update.Flags().Bool("allow-view-tracking", false, "count profile views")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show profile statistics",
		Args:  cobra.NoArgs,
		RunE:  runProfileStats,
	}

	cmd.AddCommand(show, update, stats)

	return cmd
}

func runProfileShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	return withApp(ctx, cc, func(app *App) error {
		id, err := app.Client.Profile(ctx)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cc.Out, id)
		}

		fmt.Fprintf(cc.Out, "Name:     %s\n", id.FullName)
		fmt.Fprintf(cc.Out, "Email:    %s\n", id.Email)
		fmt.Fprintf(cc.Out, "Role:     %s\n", id.Role)

		if id.Profile == nil {
			fmt.Fprintln(cc.Out, "\nNo profile details yet. Use 'jobvault profile update' to add some.")
			return nil
		}

		printProfile(cc, id.Profile)

		return nil
	})
}

func printProfile(cc *CLIContext, p *api.Profile) {
	fmt.Fprintf(cc.Out, "Headline: %s\n", p.Headline)
	fmt.Fprintf(cc.Out, "Location: %s\n", p.Location)

	if p.Bio != "" {
		fmt.Fprintf(cc.Out, "Bio:      %s\n", p.Bio)
	}

	fmt.Fprintf(cc.Out, "\nPrivacy:  email %s, phone %s, location %s, view tracking %s\n",
		yesNo(p.ShowEmail), yesNo(p.ShowPhone), yesNo(p.ShowLocation), yesNo(p.AllowViewTracking))
	fmt.Fprintf(cc.Out, "Updated:  %s\n", formatTime(p.UpdatedAt))
}

// profileUpdateFromFlags builds an update from the flags the user set.
func profileUpdateFromFlags(flags *pflag.FlagSet) (api.ProfileUpdate, error) {
	var u api.ProfileUpdate

	strs := map[string]**string{
		"headline": &u.Headline,
		"location": &u.Location,
		"bio":      &u.Bio,
	}

	for name, dst := range strs {
		if !flags.Changed(name) {
			continue
		}

		v, err := flags.GetString(name)
		if err != nil {
			return u, err
		}

		*dst = &v
	}

	bools := map[string]**bool{
		"show-email":          &u.ShowEmail,
		"show-phone":          &u.ShowPhone,
		"show-location":       &u.ShowLocation,
		"allow-view-tracking": &u.AllowViewTracking,
	}

	for name, dst := range bools {
		if !flags.Changed(name) {
			continue
		}

		v, err := flags.GetBool(name)
		if err != nil {
			return u, err
		}

		*dst = &v
	}

	return u, nil
}

func runProfileUpdate(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	update, err := profileUpdateFromFlags(cmd.Flags())
	if err != nil {
		return err
	}

	if update.IsEmpty() {
		return errors.New("nothing to update; pass at least one field flag")
	}

	return withApp(ctx, cc, func(app *App) error {
		p, err := app.Client.UpdateProfile(ctx, update)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cc.Out, p)
		}

		cc.Statusf("Profile updated.\n")
		printProfile(cc, p)

		return nil
	})
}

func runProfileStats(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	return withApp(ctx, cc, func(app *App) error {
		stats, err := app.Client.ProfileStats(ctx)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cc.Out, stats)
		}

		fmt.Fprintf(cc.Out, "Account created:  %s\n", formatTime(stats.AccountCreated))
		fmt.Fprintf(cc.Out, "Verified:         %s\n", yesNo(stats.Verified))
		fmt.Fprintf(cc.Out, "Profile views:    %d\n", stats.ProfileViews)
		fmt.Fprintf(cc.Out, "Profile updated:  %s\n", formatTime(stats.ProfileUpdated))

		return nil
	})
}
