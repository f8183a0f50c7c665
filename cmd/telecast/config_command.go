package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"telecast/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}
			if err := config.WriteSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set plex.url, plex.token, and smtp settings before starting the daemon.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if !ctx.configExists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Data dir:    %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "Log dir:     %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "API bind:    %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "Plex:        %s\n", configuredLabel(cfg.PlexConfigured()))
			fmt.Fprintf(out, "Tautulli:    %s\n", configuredLabel(cfg.TautulliConfigured()))
			fmt.Fprintf(out, "SMTP:        %s\n", configuredLabel(cfg.DeliveryConfigured()))
			fmt.Fprintf(out, "Poll every:  %d minutes\n", cfg.Workflow.PollIntervalMinutes)
			fmt.Fprintf(out, "Watched at:  %.0f%%\n", cfg.Notify.WatchedThreshold*100)
			return nil
		},
	}
}

func configuredLabel(configured bool) string {
	if configured {
		return "configured"
	}
	return "not configured"
}
