package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"telecast/internal/config"
	"telecast/internal/daemon"
	"telecast/internal/dedup"
	"telecast/internal/delivery"
	"telecast/internal/eligibility"
	"telecast/internal/logging"
	"telecast/internal/poller"
	"telecast/internal/reconcile"
	"telecast/internal/resolver"
	"telecast/internal/services/plex"
	"telecast/internal/services/tautulli"
	"telecast/internal/store"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:          "daemon",
		Short:        "Run the telecast daemon in the foreground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runDaemon(cmd, cfg)
		},
	}
}

func runDaemon(cmd *cobra.Command, cfg *config.Config) error {
	if !cfg.PlexConfigured() {
		return errors.New("plex.url and plex.token must be configured before running the daemon")
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	st, err := store.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	plexClient, err := plex.New(cfg.Plex)
	if err != nil {
		st.Close()
		return fmt.Errorf("build plex client: %w", err)
	}

	var tautulliClient tautulli.Client
	if cfg.TautulliConfigured() {
		tautulliClient, err = tautulli.New(cfg.Tautulli, cfg.Notify.HistoryPageLength)
		if err != nil {
			st.Close()
			return fmt.Errorf("build tautulli client: %w", err)
		}
	} else {
		logger.Warn("tautulli not configured; eligibility falls back to subscriptions")
	}

	eval := eligibility.New(st, tautulliClient, cfg.Notify.WatchedThreshold, logger)
	cache := dedup.NewCache(
		time.Duration(cfg.Notify.HistoryCacheTTL)*time.Second,
		cfg.Notify.HistoryCacheLimit,
	)
	deduper := dedup.New(st, cache, logger)

	var base delivery.Sender
	if cfg.DeliveryConfigured() {
		base, err = delivery.NewSMTPSender(cfg.SMTP)
		if err != nil {
			st.Close()
			return fmt.Errorf("build smtp sender: %w", err)
		}
	} else {
		logger.Warn("smtp not configured; notifications are logged instead of sent")
		base = delivery.NewLogSender(logger, cfg.SMTP.FromAddress)
	}
	sender := delivery.NewRetrySender(base, cfg.Notify, logger)

	res := resolver.New(st, plexClient, logger)
	p := poller.New(cfg, st, plexClient, tautulliClient, res, eval, deduper, sender, logger)
	interval := time.Duration(cfg.Workflow.PollIntervalMinutes) * time.Minute
	scheduler := poller.NewScheduler(p, interval, logger)

	reconciler := reconcile.New(st, res, cfg.Workflow.ReconcileBatchSize, logger)

	d, err := daemon.New(cfg, st, scheduler, reconciler, logger)
	if err != nil {
		st.Close()
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(runCtx); err != nil {
		st.Close()
		return err
	}
	d.Wait()
	return d.Close()
}
