package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"listingsync/internal/model"
	"listingsync/internal/repository"
	"listingsync/internal/snapshot"
)

// memRepo is an in-memory ListingRepository recording every call.
type memRepo struct {
	mu        sync.Mutex
	items     map[string]*model.ItemRecord
	times     map[string]time.Time
	bulkCalls int
	replaced  []string

	failDelete  bool
	failReplace bool
	evictErr    error
	evicted     int64
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[string]*model.ItemRecord{}, times: map[string]time.Time{}}
}

func (r *memRepo) item(sku string) *model.ItemRecord {
	rec, ok := r.items[sku]
	if !ok {
		rec = &model.ItemRecord{SKU: sku}
		r.items[sku] = rec
		if _, ok := r.times[sku]; !ok {
			r.times[sku] = time.Time{}
		}
	}
	return rec
}

func (r *memRepo) remove(key model.ListingKey) {
	rec, ok := r.items[key.SKU]
	if !ok {
		return
	}
	kept := rec.Listings[:0]
	for _, l := range rec.Listings {
		if l.Intent != key.Intent || l.SteamID != key.SteamID {
			kept = append(kept, l)
		}
	}
	rec.Listings = kept
}

func (r *memRepo) Upsert(_ context.Context, key model.ListingKey, l model.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(key)
	rec := r.item(key.SKU)
	rec.Listings = append(rec.Listings, l)
	return nil
}

func (r *memRepo) Delete(_ context.Context, key model.ListingKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDelete {
		return errors.New("delete failed")
	}
	r.remove(key)
	return nil
}

func (r *memRepo) BulkApply(_ context.Context, deletes []model.ListingKey, inserts []model.ItemListing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bulkCalls++
	if r.failDelete {
		return errors.New("bulk delete failed")
	}
	for _, k := range deletes {
		r.remove(k)
	}
	for _, in := range inserts {
		rec := r.item(in.SKU)
		rec.Listings = append(rec.Listings, in.Listing)
	}
	return nil
}

func (r *memRepo) ReplaceItemListings(_ context.Context, sku string, listings []model.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failReplace {
		return errors.New("replace failed")
	}
	r.replaced = append(r.replaced, sku)
	r.item(sku).Listings = append([]model.Listing(nil), listings...)
	return nil
}

func (r *memRepo) EvictOlderThan(context.Context, time.Duration) (int64, error) {
	return r.evicted, r.evictErr
}

func (r *memRepo) RecordSnapshotTime(_ context.Context, sku string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.item(sku)
	r.times[sku] = at
	return nil
}

func (r *memRepo) AllSnapshotTimes(context.Context) (map[string]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.times))
	for k, v := range r.times {
		out[k] = v
	}
	return out, nil
}

func (r *memRepo) GetItem(_ context.Context, sku string) (*model.ItemRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[sku]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	cp.Listings = append([]model.Listing{}, rec.Listings...)
	return &cp, nil
}

func (r *memRepo) GetStats(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"total_items": len(r.items)}, nil
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) listings(sku string) []model.Listing {
	rec, err := r.GetItem(context.Background(), sku)
	if err != nil {
		return nil
	}
	return rec.Listings
}

var _ repository.ListingRepository = (*memRepo)(nil)

// fakeFetcher serves canned snapshots and records the fetch order.
type fakeFetcher struct {
	mu       sync.Mutex
	order    []string
	snaps    map[string]*snapshot.Snapshot
	limited  map[string]int // sku -> remaining 429 answers
	failures map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, sku string, _ int64) (*snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, sku)
	if f.limited[sku] > 0 {
		f.limited[sku]--
		return nil, &snapshot.RateLimitError{}
	}
	if f.failures[sku] {
		return nil, errors.New("http 500")
	}
	if s, ok := f.snaps[sku]; ok {
		return s, nil
	}
	return &snapshot.Snapshot{}, nil
}
