package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geotrack/livetrack/internal/api"
	"github.com/geotrack/livetrack/internal/config"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the REST API is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := config.GetAPIConfig()
			ctx, cancel := context.WithTimeout(cmd.Context(), ac.Timeout)
			defer cancel()

			client := api.New(ac.URL, ac.Timeout)
			if err := client.Healthcheck(ctx); err != nil {
				return fmt.Errorf("api %s: %w", ac.URL, err)
			}
			assets, err := client.Assets(ctx)
			if err != nil {
				return fmt.Errorf("api %s: %w", ac.URL, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "api %s ok, %d assets registered\n", ac.URL, len(assets))
			return nil
		},
	}
}
