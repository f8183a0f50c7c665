// Package reconcile re-resolves stored show references against the live
// library and backfills identifiers onto old records, so notifications sent
// before an identifier existed still dedup against it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"telecast/internal/identity"
	"telecast/internal/logging"
	"telecast/internal/resolver"
	"telecast/internal/store"
)

// Report summarizes one reconciliation sweep.
type Report struct {
	RefsExamined         int
	Resolved             int
	Ambiguous            int
	Unresolved           int
	NotificationsUpdated int
	NotificationsMerged  int
	PreferencesUpdated   int
}

// Reconciler walks stored references in bounded batches.
type Reconciler struct {
	store     *store.Store
	resolver  *resolver.Resolver
	batchSize int
	logger    *slog.Logger
}

// New creates a reconciler. Non-positive batch sizes default to 50.
func New(st *store.Store, res *resolver.Resolver, batchSize int, logger *slog.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{
		store:     st,
		resolver:  res,
		batchSize: batchSize,
		logger:    logging.NewComponentLogger(logger, "reconcile"),
	}
}

// Run sweeps every distinct show reference found in notifications and
// preferences. Title-only legacy records get the full title-search cascade;
// ambiguous references are counted and left untouched.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	refs, err := r.collectRefs(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for start := 0; start < len(refs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(refs) {
			end = len(refs)
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		for _, ref := range refs[start:end] {
			report.RefsExamined++
			if err := r.reconcileRef(ctx, ref, &report); err != nil {
				return report, err
			}
		}
	}

	r.logger.Info("reconciliation complete",
		logging.Int("examined", report.RefsExamined),
		logging.Int("resolved", report.Resolved),
		logging.Int("ambiguous", report.Ambiguous),
		logging.Int("unresolved", report.Unresolved),
		logging.Int("notifications_updated", report.NotificationsUpdated),
		logging.Int("notifications_merged", report.NotificationsMerged),
		logging.Int("preferences_updated", report.PreferencesUpdated))
	return report, nil
}

func (r *Reconciler) collectRefs(ctx context.Context) ([]identity.Ref, error) {
	notifRefs, err := r.store.NotificationShowRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect notification refs: %w", err)
	}
	prefRefs, err := r.store.PreferenceShowRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect preference refs: %w", err)
	}

	// Distinct identifier combinations only; two sources can report the same
	// show.
	seen := make(map[string]bool)
	var refs []identity.Ref
	for _, ref := range append(notifRefs, prefRefs...) {
		key := ref.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

func (r *Reconciler) reconcileRef(ctx context.Context, ref identity.Ref, report *Report) error {
	outcome, err := r.resolver.Resolve(ctx, ref, resolver.Options{AllowTitleSearch: true})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", ref.String(), err)
	}
	switch {
	case outcome.Matched:
		report.Resolved++
	case outcome.Reason == resolver.ReasonAmbiguous:
		report.Ambiguous++
		r.logger.Warn("reference ambiguous, leaving records untouched",
			logging.String(logging.FieldShow, ref.String()))
		return nil
	default:
		report.Unresolved++
		r.logger.Info("reference no longer resolves",
			logging.String(logging.FieldShow, ref.String()),
			logging.String(logging.FieldReason, string(outcome.Reason)))
		return nil
	}

	updated, merged, err := r.store.BackfillNotificationIdentifiers(ctx, ref, outcome.Identity)
	if err != nil {
		return fmt.Errorf("backfill notifications for %s: %w", ref.String(), err)
	}
	report.NotificationsUpdated += updated
	report.NotificationsMerged += merged

	prefs, err := r.store.BackfillPreferenceIdentifiers(ctx, ref, outcome.Identity)
	if err != nil {
		return fmt.Errorf("backfill preferences for %s: %w", ref.String(), err)
	}
	report.PreferencesUpdated += prefs
	return nil
}
