package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			var status struct {
				Running      bool   `json:"running"`
				PID          int    `json:"pid"`
				DBPath       string `json:"db_path"`
				LockFilePath string `json:"lock_file"`
				LastCycleAt  string `json:"last_cycle_at"`
				LastCycleErr string `json:"last_cycle_error"`
			}
			if err := client.do(http.MethodGet, "/api/status", nil, &status); err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			color := shouldColorize(stdout)

			state := colorize(color, ansiGreen, "running")
			if !status.Running {
				state = colorize(color, ansiYellow, "stopped")
			}
			fmt.Fprintf(stdout, "Daemon:     %s (pid %d)\n", state, status.PID)
			fmt.Fprintf(stdout, "Database:   %s\n", status.DBPath)
			fmt.Fprintf(stdout, "Lock file:  %s\n", status.LockFilePath)

			lastCycle := "never"
			if status.LastCycleAt != "" {
				if at, err := time.Parse(time.RFC3339, status.LastCycleAt); err == nil {
					lastCycle = fmt.Sprintf("%s (%s ago)", at.Local().Format("2006-01-02 15:04:05"), time.Since(at).Round(time.Second))
				} else {
					lastCycle = status.LastCycleAt
				}
			}
			fmt.Fprintf(stdout, "Last cycle: %s\n", lastCycle)
			if status.LastCycleErr != "" {
				fmt.Fprintf(stdout, "Last error: %s\n", colorize(color, ansiRed, status.LastCycleErr))
			}
			return nil
		},
	}
}
