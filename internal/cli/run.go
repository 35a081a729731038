package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sitewatch-go/internal/app"
	"sitewatch-go/internal/storage"
)

func (r *runner) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor, the token refresher and the local API",
		Long: `Run the daemon until SIGINT or SIGTERM.

The session of the last user is resumed, sites are checked every
monitor.interval (or on monitor.schedule), the local API listens on
server.api_addr and metrics on server.metrics_addr when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return r.withApp(cmd, func(_ context.Context, a *app.Application) error {
				err := a.Run(ctx)
				a.Logger.Info("Application has stopped", zap.Error(err))
				return err
			})
		},
	}
}

func (r *runner) newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new encryption key for the sqlite backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := storage.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func (r *runner) newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Copy the sqlite database to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if a.DB == nil {
					return fmt.Errorf("backup needs store.backend set to sqlite")
				}
				if err := a.DB.Backup(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backed up database to %s\n", args[0])
				return nil
			})
		},
	}
}
