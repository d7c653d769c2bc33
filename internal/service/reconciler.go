package service

import (
	"context"
	"fmt"
	"time"

	"listingsync/internal/event"
	"listingsync/internal/identity"
	"listingsync/internal/metrics"
	"listingsync/internal/model"
	"listingsync/internal/repository"
)

// BatchResult summarizes one reconciled batch.
type BatchResult struct {
	Deletes int
	Inserts int
	Dropped int
}

// Reconciler turns a batch of feed events into one delete set and one insert set.
//
// Events are folded in arrival order per key: a later delete cancels an
// earlier insert and a later insert supersedes an earlier one. Every touched
// key lands in the delete set, so a surviving insert always replaces what the
// store held before.
type Reconciler struct {
	repo     repository.ListingRepository
	resolver identity.Resolver
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReconciler creates a batch reconciler.
func NewReconciler(repo repository.ListingRepository, resolver identity.Resolver, m *metrics.Metrics) *Reconciler {
	return &Reconciler{repo: repo, resolver: resolver, metrics: m, now: time.Now}
}

// Plan folds events into the delete and insert sets without touching the store.
func (r *Reconciler) Plan(ctx context.Context, events []event.Envelope) ([]model.ListingKey, []model.ItemListing, int) {
	var (
		order   []model.ListingKey
		final   = make(map[model.ListingKey]*model.Listing)
		dropped int
		now     = r.now()
	)

	touch := func(key model.ListingKey, l *model.Listing) {
		if _, seen := final[key]; !seen {
			order = append(order, key)
		}
		final[key] = l
	}

	for _, ev := range events {
		switch ev.Kind() {
		case event.KindUpdate:
			u := event.Normalize(ev.Payload)
			if u == nil {
				r.metrics.Drop("unusable")
				dropped++
				continue
			}
			sku, err := r.resolver.Resolve(ctx, u.ItemName)
			if err != nil {
				r.metrics.Drop("unresolved")
				dropped++
				continue
			}
			l := u.Listing
			l.Stamp(now)
			touch(l.Key(sku), &l)

		case event.KindDelete:
			d, ok := event.NormalizeDeletion(ev.Payload)
			if !ok {
				r.metrics.Drop("unusable")
				dropped++
				continue
			}
			sku, err := r.resolver.Resolve(ctx, d.ItemName)
			if err != nil {
				r.metrics.Drop("unresolved")
				dropped++
				continue
			}
			touch(model.ListingKey{SKU: sku, Intent: d.Intent, SteamID: d.SteamID}, nil)
		}
	}

	deletes := make([]model.ListingKey, 0, len(order))
	var inserts []model.ItemListing
	for _, key := range order {
		deletes = append(deletes, key)
		if l := final[key]; l != nil {
			inserts = append(inserts, model.ItemListing{SKU: key.SKU, Listing: *l})
		}
	}
	return deletes, inserts, dropped
}

// Reconcile plans the batch and applies it with a single BulkApply.
func (r *Reconciler) Reconcile(ctx context.Context, events []event.Envelope) (BatchResult, error) {
	deletes, inserts, dropped := r.Plan(ctx, events)
	res := BatchResult{Deletes: len(deletes), Inserts: len(inserts), Dropped: dropped}
	if len(deletes) == 0 {
		return res, nil
	}

	if err := r.repo.BulkApply(ctx, deletes, inserts); err != nil {
		r.metrics.StoreError("bulk_apply")
		return res, fmt.Errorf("apply batch of %d events: %w", len(events), err)
	}
	return res, nil
}
