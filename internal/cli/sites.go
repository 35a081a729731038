package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sitewatch-go/internal/app"
	"sitewatch-go/internal/monitor"
)

func (r *runner) newSitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Manage the monitored sites",
	}
	cmd.AddCommand(r.newSitesListCmd(), r.newSitesAddCmd(), r.newSitesRemoveCmd())
	return cmd
}

func (r *runner) newSitesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the monitored sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				sites, err := a.Monitor.List(ctx)
				if err != nil {
					return err
				}
				for _, s := range sites {
					mark := ""
					if s.Authenticated {
						mark = " (authenticated)"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", s.URL, mark)
				}
				return nil
			})
		},
	}
}

func (r *runner) newSitesAddCmd() *cobra.Command {
	var authenticated bool

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Start monitoring a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				site, err := a.Monitor.Add(ctx, args[0], authenticated)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", site.URL)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&authenticated, "authenticated", false, "fetch the site with the current user's token")
	return cmd
}

func (r *runner) newSitesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <url>",
		Aliases: []string{"rm"},
		Short:   "Stop monitoring a site",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if err := a.Monitor.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func (r *runner) newCheckCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check every site once and print the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				statuses, err := a.Monitor.CheckAll(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, statuses)
				}
				fmt.Fprintln(cmd.OutOrStdout(), monitor.Summary(statuses))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the statuses as JSON")
	return cmd
}
