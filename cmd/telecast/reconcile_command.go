package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Re-resolve stored show references against the media server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			var resp struct {
				RefsExamined         int `json:"refs_examined"`
				Resolved             int `json:"resolved"`
				Ambiguous            int `json:"ambiguous"`
				Unresolved           int `json:"unresolved"`
				NotificationsUpdated int `json:"notifications_updated"`
				NotificationsMerged  int `json:"notifications_merged"`
				PreferencesUpdated   int `json:"preferences_updated"`
			}
			if err := client.do(http.MethodPost, "/api/reconcile", nil, &resp); err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "Examined %d show references\n", resp.RefsExamined)
			fmt.Fprintf(stdout, "  resolved:   %d\n", resp.Resolved)
			fmt.Fprintf(stdout, "  ambiguous:  %d\n", resp.Ambiguous)
			fmt.Fprintf(stdout, "  unresolved: %d\n", resp.Unresolved)
			if resp.NotificationsUpdated > 0 || resp.NotificationsMerged > 0 {
				fmt.Fprintf(stdout, "Backfilled %d notifications (%d merged as duplicates)\n",
					resp.NotificationsUpdated, resp.NotificationsMerged)
			}
			if resp.PreferencesUpdated > 0 {
				fmt.Fprintf(stdout, "Backfilled %d preferences\n", resp.PreferencesUpdated)
			}
			return nil
		},
	}
}
