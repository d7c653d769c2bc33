package repository

import (
	"context"
	"errors"
	"time"

	"listingsync/internal/model"
)

// ErrNotFound is returned when an item record does not exist.
var ErrNotFound = errors.New("item not found")

// ListingRepository is the store adapter for item records.
//
// Writes for one item are serialized by the store's own per-record
// atomicity; implementations hold no application-level locks.
// BulkApply is not transactional across its two steps: a gap left by a
// failed step is corrected by the next snapshot refresh of that item.
type ListingRepository interface {
	// Upsert removes any listing at key, then stores listing. Creates the item record if absent.
	Upsert(ctx context.Context, key model.ListingKey, listing model.Listing) error

	// Delete removes the listing at key. Missing listings are not an error.
	Delete(ctx context.Context, key model.ListingKey) error

	// BulkApply runs all deletes as one bulk write, then all inserts as one bulk write.
	// Empty sets are skipped. If the delete step fails the insert step is not attempted.
	BulkApply(ctx context.Context, deletes []model.ListingKey, inserts []model.ItemListing) error

	// ReplaceItemListings replaces every listing of one item. An empty set wipes the item.
	ReplaceItemListings(ctx context.Context, sku string, listings []model.Listing) error

	// EvictOlderThan removes listings whose Updated is older than now-horizon
	// and returns how many were removed. Age exactly equal to horizon is kept.
	EvictOlderThan(ctx context.Context, horizon time.Duration) (int64, error)

	// RecordSnapshotTime stores the last snapshot refresh time of an item.
	RecordSnapshotTime(ctx context.Context, sku string, at time.Time) error

	// AllSnapshotTimes returns the last refresh time of every item; zero means never.
	AllSnapshotTimes(ctx context.Context) (map[string]time.Time, error)

	// GetItem returns the item record or ErrNotFound.
	GetItem(ctx context.Context, sku string) (*model.ItemRecord, error)

	// GetStats returns statistics about the store.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the repository connection.
	Close() error
}

// Clock returns the current time; stores use it to compute eviction cutoffs.
type Clock func() time.Time

func cutoff(now Clock, horizon time.Duration) int64 {
	if now == nil {
		now = time.Now
	}
	return now().Add(-horizon).Unix()
}
