package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/geotrack/livetrack/internal/config"
)

func newRootCommand() *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:           "livetrack",
		Short:         "Live telemetry view for the geotrack stream",
		Long:          "livetrack keeps a live marker and fading trail per tracked asset from the geotrack websocket stream.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(configDir); err != nil {
				return err
			}
			// flags win over file and environment
			for flag, key := range map[string]string{
				"log-level": "logLevel",
				"url":       "transport.url",
				"api":       "api.url",
				"history":   "history.source",
			} {
				if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
					viper.Set(key, f.Value.String())
				}
			}
			if f := cmd.Flags().Lookup("assets"); f != nil && f.Changed {
				ids, _ := cmd.Flags().GetStringSlice("assets")
				viper.Set("subscribe.assetIds", ids)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing "+config.ConfigName)
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("api", "", "REST API base URL")

	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newConfigCommand())
	return rootCmd
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session:        %s\n", cfg.Session)
			fmt.Fprintf(cmd.OutOrStdout(), "transport.url:  %s (backoff %s)\n", cfg.Transport.URL, cfg.Transport.ReconnectBackoff)
			fmt.Fprintf(cmd.OutOrStdout(), "api.url:        %s\n", cfg.API.URL)
			fmt.Fprintf(cmd.OutOrStdout(), "history:        %s, window %s\n", cfg.History.Source, cfg.History.Window)
			fmt.Fprintf(cmd.OutOrStdout(), "trail:          %d points, max age %s, decay every %s\n",
				cfg.Trail.MaxPoints, cfg.Trail.MaxAge, cfg.Trail.DecayInterval)
			fmt.Fprintf(cmd.OutOrStdout(), "assets:         %v\n", cfg.AssetIDs)
			return nil
		},
	}
}
