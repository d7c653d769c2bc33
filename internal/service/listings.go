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

// ListingService applies single feed events to the store.
type ListingService struct {
	repo     repository.ListingRepository
	resolver identity.Resolver
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewListingService creates a new listing service.
func NewListingService(repo repository.ListingRepository, resolver identity.Resolver, m *metrics.Metrics) *ListingService {
	return &ListingService{
		repo:     repo,
		resolver: resolver,
		metrics:  m,
		now:      time.Now,
	}
}

// ApplyUpdate resolves the item and replaces the listing at its key.
func (s *ListingService) ApplyUpdate(ctx context.Context, u event.Update) error {
	sku, err := s.resolver.Resolve(ctx, u.ItemName)
	if err != nil {
		s.metrics.Drop("unresolved")
		return err
	}

	l := u.Listing
	l.Stamp(s.now())
	if err := s.repo.Upsert(ctx, l.Key(sku), l); err != nil {
		s.metrics.StoreError("upsert")
		return fmt.Errorf("upsert %s/%s/%s: %w", sku, l.Intent, l.SteamID, err)
	}
	return nil
}

// ApplyDeletion resolves the item and removes the listing at the deletion key.
func (s *ListingService) ApplyDeletion(ctx context.Context, d event.Deletion) error {
	sku, err := s.resolver.Resolve(ctx, d.ItemName)
	if err != nil {
		s.metrics.Drop("unresolved")
		return err
	}

	key := model.ListingKey{SKU: sku, Intent: d.Intent, SteamID: d.SteamID}
	if err := s.repo.Delete(ctx, key); err != nil {
		s.metrics.StoreError("delete")
		return fmt.Errorf("delete %s/%s/%s: %w", sku, d.Intent, d.SteamID, err)
	}
	return nil
}

// GetItem returns the stored record of sku, optionally restricted to one intent.
func (s *ListingService) GetItem(ctx context.Context, sku string, intent model.Intent) (*model.ItemRecord, error) {
	rec, err := s.repo.GetItem(ctx, sku)
	if err != nil {
		return nil, err
	}
	if intent != "" {
		rec.Listings = rec.Filter(intent)
	}
	return rec, nil
}
