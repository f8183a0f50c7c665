package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <email>",
		Short: "Show notifications sent to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			query := url.Values{"email": {args[0]}}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}

			var resp struct {
				Email         string `json:"email"`
				Notifications []struct {
					ShowTitle    string `json:"show_title"`
					Season       int    `json:"season"`
					Episode      int    `json:"episode"`
					EpisodeTitle string `json:"episode_title"`
					SentAt       string `json:"sent_at"`
				} `json:"notifications"`
			}
			if err := client.do(http.MethodGet, "/api/history", query, &resp); err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			if len(resp.Notifications) == 0 {
				fmt.Fprintf(stdout, "No notifications recorded for %s\n", resp.Email)
				return nil
			}

			rows := make([][]string, 0, len(resp.Notifications))
			for _, n := range resp.Notifications {
				sentAt := n.SentAt
				if at, err := time.Parse(time.RFC3339, n.SentAt); err == nil {
					sentAt = at.Local().Format("2006-01-02 15:04")
				}
				rows = append(rows, []string{
					n.ShowTitle,
					fmt.Sprintf("S%02dE%02d", n.Season, n.Episode),
					n.EpisodeTitle,
					sentAt,
				})
			}
			fmt.Fprintln(stdout, renderTable([]string{"Show", "Episode", "Title", "Sent"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum notifications to list")
	return cmd
}
