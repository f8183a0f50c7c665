package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"telecast/internal/identity"
	"telecast/internal/logging"
	"telecast/internal/poller"
	"telecast/internal/resolver"
	"telecast/internal/services/plex"
	"telecast/internal/store"
)

func newSubscriptionsCommand(ctx *commandContext) *cobra.Command {
	subsCmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Manage per-user show subscriptions and opt-outs",
	}

	subsCmd.AddCommand(newSubscriptionsListCommand(ctx))
	subsCmd.AddCommand(newSubscriptionsAddCommand(ctx))
	subsCmd.AddCommand(newSubscriptionsRemoveCommand(ctx))
	subsCmd.AddCommand(newSubscriptionsOptOutCommand(ctx))
	subsCmd.AddCommand(newSubscriptionsOptInCommand(ctx))

	return subsCmd
}

// withStore opens the preference database for a one-shot CLI operation.
func withStore(ctx *commandContext, fn func(context.Context, *store.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func newSubscriptionsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <email>",
		Short: "List a user's show preferences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := poller.NormalizeEmail(args[0])
			return withStore(ctx, func(runCtx context.Context, st *store.Store) error {
				stdout := cmd.OutOrStdout()

				global, err := st.GlobalOptOut(runCtx, email)
				if err != nil {
					return err
				}
				if global {
					fmt.Fprintf(stdout, "%s has opted out of all notifications\n", email)
				}

				prefs, err := st.PreferencesForUser(runCtx, email)
				if err != nil {
					return err
				}
				if len(prefs) == 0 {
					fmt.Fprintf(stdout, "No show preferences for %s\n", email)
					return nil
				}

				rows := make([][]string, 0, len(prefs))
				for _, p := range prefs {
					state := "unsubscribed"
					switch {
					case p.OptedOut:
						state = "opted out"
					case p.Subscribed:
						state = "subscribed"
					}
					rows = append(rows, []string{
						p.ShowTitle,
						state,
						preferenceIdentifiers(p),
						p.UpdatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(stdout, renderTable([]string{"Show", "State", "Identifiers", "Updated"}, rows))
				return nil
			})
		},
	}
}

func preferenceIdentifiers(p *store.Preference) string {
	var parts []string
	if p.GUID != "" {
		parts = append(parts, "guid")
	}
	if p.LibraryKey != "" {
		parts = append(parts, "key")
	}
	for _, provider := range identity.ProviderOrder {
		if p.External.Get(provider) != "" {
			parts = append(parts, string(provider))
		}
	}
	if len(parts) == 0 {
		return "title only"
	}
	return strings.Join(parts, ", ")
}

func newSubscriptionsAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <email> <show title>",
		Short: "Subscribe a user to a show",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := poller.NormalizeEmail(args[0])
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return errors.New("show title required")
			}
			return withStore(ctx, func(runCtx context.Context, st *store.Store) error {
				pref := store.Preference{
					Email:      email,
					ShowTitle:  title,
					Subscribed: true,
				}
				resolveSubscriptionShow(runCtx, ctx, st, &pref, cmd)

				if _, err := st.UpsertPreference(runCtx, pref); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Subscribed %s to %q\n", email, pref.ShowTitle)
				return nil
			})
		},
	}
}

// resolveSubscriptionShow attaches server identifiers to a new preference when
// the media server is reachable. Failures leave the preference title-keyed;
// reconciliation picks it up later.
func resolveSubscriptionShow(runCtx context.Context, ctx *commandContext, st *store.Store, pref *store.Preference, cmd *cobra.Command) {
	cfg, err := ctx.ensureConfig()
	if err != nil || !cfg.PlexConfigured() {
		return
	}
	client, err := plex.New(cfg.Plex)
	if err != nil {
		return
	}

	res := resolver.New(st, client, logging.NewNop())
	outcome, err := res.Resolve(runCtx, identity.Ref{Title: pref.ShowTitle}, resolver.Options{AllowTitleSearch: true})
	if err != nil || !outcome.Matched {
		if outcome.Reason == resolver.ReasonAmbiguous {
			fmt.Fprintf(cmd.OutOrStdout(), "Show title %q is ambiguous on the server; storing title-only preference\n", pref.ShowTitle)
		}
		return
	}

	if outcome.Show.Title != "" {
		pref.ShowTitle = outcome.Show.Title
	}
	pref.LibraryKey = outcome.Show.RatingKey
	pref.GUID = outcome.Show.GUID
	pref.External = outcome.Show.External
}

func newSubscriptionsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email> <show title>",
		Short: "Drop a user's subscription to a show",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := poller.NormalizeEmail(args[0])
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			return withStore(ctx, func(runCtx context.Context, st *store.Store) error {
				pref, err := existingOrTitlePreference(runCtx, st, email, title)
				if err != nil {
					return err
				}
				pref.Subscribed = false
				if _, err := st.UpsertPreference(runCtx, pref); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unsubscribed %s from %q\n", email, pref.ShowTitle)
				return nil
			})
		},
	}
}

func newSubscriptionsOptOutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "opt-out <email> [show title]",
		Short: "Opt a user out, globally or for one show",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setOptOut(ctx, cmd, args, true)
		},
	}
}

func newSubscriptionsOptInCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "opt-in <email> [show title]",
		Short: "Clear an opt-out, globally or for one show",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setOptOut(ctx, cmd, args, false)
		},
	}
}

func setOptOut(ctx *commandContext, cmd *cobra.Command, args []string, optedOut bool) error {
	email := poller.NormalizeEmail(args[0])
	title := strings.TrimSpace(strings.Join(args[1:], " "))
	return withStore(ctx, func(runCtx context.Context, st *store.Store) error {
		stdout := cmd.OutOrStdout()
		verb := "Opted out"
		if !optedOut {
			verb = "Opted in"
		}

		if title == "" {
			if err := st.SetGlobalOptOut(runCtx, email, optedOut); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s %s for all notifications\n", verb, email)
			return nil
		}

		pref, err := existingOrTitlePreference(runCtx, st, email, title)
		if err != nil {
			return err
		}
		pref.OptedOut = optedOut
		if _, err := st.UpsertPreference(runCtx, pref); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s for %q\n", verb, email, pref.ShowTitle)
		return nil
	})
}

// existingOrTitlePreference loads a stored preference by title so identifier
// columns survive state flips, falling back to a fresh title-keyed row.
func existingOrTitlePreference(runCtx context.Context, st *store.Store, email, title string) (store.Preference, error) {
	if title == "" {
		return store.Preference{}, errors.New("show title required")
	}
	stored, err := st.ShowPreference(runCtx, email, identity.Ref{Title: title})
	if err != nil {
		return store.Preference{}, err
	}
	if stored != nil {
		return *stored, nil
	}
	return store.Preference{Email: email, ShowTitle: title}, nil
}
