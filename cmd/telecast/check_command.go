package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var lookbackHours int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Trigger an immediate notification cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			query := url.Values{}
			if lookbackHours > 0 {
				query.Set("lookback_hours", strconv.Itoa(lookbackHours))
			} else if lookbackHours < 0 {
				return fmt.Errorf("lookback must be positive, got %d", lookbackHours)
			}
			if dryRun {
				query.Set("dry_run", "1")
			}

			var resp struct {
				Triggered bool   `json:"triggered"`
				Detail    string `json:"detail"`
			}
			if err := client.do(http.MethodPost, "/api/check", query, &resp); err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			if !resp.Triggered {
				if resp.Detail != "" {
					fmt.Fprintln(stdout, "Check not started:", resp.Detail)
				} else {
					fmt.Fprintln(stdout, "Check not started")
				}
				return nil
			}
			if dryRun {
				fmt.Fprintln(stdout, "Dry-run cycle started; see daemon logs for the outcome")
			} else {
				fmt.Fprintln(stdout, "Check started; see daemon logs for the outcome")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&lookbackHours, "lookback", 0, "Widen the episode window to this many hours")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate without sending or recording notifications")
	return cmd
}
