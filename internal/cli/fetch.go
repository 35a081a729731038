package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sitewatch-go/internal/app"
)

func (r *runner) newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <url>",
		Short: "GET a protected resource as the current user and print the body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				user, err := a.Auth.CurrentUser(ctx)
				if err != nil {
					return err
				}
				status, body, err := a.Client.Fetch(ctx, args[0], user)
				if err != nil {
					return err
				}
				if _, err := cmd.OutOrStdout().Write(body); err != nil {
					return err
				}
				if status >= 400 {
					return fmt.Errorf("request failed with status %d", status)
				}
				return nil
			})
		},
	}
}

func (r *runner) newPhotoCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "photo",
		Short: "Fetch the profile photo of the current user",
		Long: `Fetch the profile photo of the current user from Microsoft Graph.

Without --output the photo is printed as a data URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				user, err := a.Auth.CurrentUser(ctx)
				if err != nil {
					return err
				}
				dataURL, err := a.Graph.Photo(ctx, user)
				if err != nil {
					return err
				}
				if output == "" {
					fmt.Fprintln(cmd.OutOrStdout(), dataURL)
					return nil
				}

				data, err := decodeDataURL(dataURL)
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return fmt.Errorf("failed to save photo: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved photo to %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "save the photo to this file")
	return cmd
}

// decodeDataURL returns the payload of a base64 data URL.
func decodeDataURL(dataURL string) ([]byte, error) {
	_, payload, ok := strings.Cut(dataURL, ";base64,")
	if !ok || !strings.HasPrefix(dataURL, "data:") {
		return nil, fmt.Errorf("not a base64 data url")
	}
	return base64.StdEncoding.DecodeString(payload)
}
