package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"sitewatch-go/internal/app"
)

func (r *runner) newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in through the system browser",
		Long: `Sign in with the authorization code flow and PKCE.

The authorize page opens in the system browser and the redirect is caught on
a loopback port. With auth.no_browser set the URL is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				result, err := a.Auth.Login(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", result.User)
				return nil
			})
		},
	}
}

func (r *runner) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout [user]",
		Short: "Forget the stored token of a user (default: the last user)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var user string
			if len(args) == 1 {
				user = args[0]
			}
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				loggedOut, err := a.Auth.Logout(ctx, user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged out %s\n", loggedOut)
				return nil
			})
		},
	}
}

func (r *runner) newWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the last user and whether a token is stored for them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				identity, err := a.Auth.WhoAmI(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, identity)
			})
		},
	}
}

func (r *runner) newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				user, err := a.Auth.CurrentUser(ctx)
				if err != nil {
					return err
				}
				token, err := a.Auth.AccessToken(ctx, user)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
