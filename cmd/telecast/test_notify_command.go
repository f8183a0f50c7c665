package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"telecast/internal/delivery"
	"telecast/internal/logging"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.DeliveryConfigured() {
				return errors.New("smtp.host and smtp.from_address must be configured")
			}
			if to == "" {
				return errors.New("--to is required")
			}

			smtpSender, err := delivery.NewSMTPSender(cfg.SMTP)
			if err != nil {
				return err
			}
			sender := delivery.NewRetrySender(smtpSender, cfg.Notify, logging.NewNop())

			msg := delivery.EpisodeMessage(to, delivery.EpisodeDetails{
				ShowTitle:    "Telecast Test",
				Season:       1,
				Episode:      1,
				EpisodeTitle: "Delivery Check",
				Summary:      "If you can read this, outbound mail is working.",
				AiredAt:      time.Now(),
			})
			if err := sender.Send(cmd.Context(), msg); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent to %s\n", to)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient address for the test email")
	return cmd
}
