package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"listingsync/internal/event"
	"listingsync/internal/metrics"
	"listingsync/internal/model"
	"listingsync/internal/repository"
	"listingsync/internal/snapshot"

	"golang.org/x/time/rate"
)

// SnapshotConfig holds configuration for the snapshot refresher.
type SnapshotConfig struct {
	AppID int64

	// BatchSize is how many of the globally stalest items a cycle refreshes.
	BatchSize int
	// PriorityBatchSize is how many of the stalest prioritized items a cycle refreshes.
	PriorityBatchSize int

	// RequestDelay is the minimum gap between two snapshot fetches.
	RequestDelay time.Duration
	// RateLimitBackoff is the pause after a rate-limited fetch.
	RateLimitBackoff time.Duration
	// IdleDelay is the pause when a cycle found nothing to refresh.
	IdleDelay time.Duration
	// ReloadInterval is how often the snapshot time table is re-read from the store.
	ReloadInterval time.Duration

	Priority []string
}

// DefaultSnapshotConfig returns default refresher configuration.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		AppID:             440,
		BatchSize:         10,
		PriorityBatchSize: 10,
		RequestDelay:      1 * time.Second,
		RateLimitBackoff:  60 * time.Second,
		IdleDelay:         30 * time.Second,
		ReloadInterval:    10 * time.Minute,
	}
}

// CycleResult summarizes one refresher cycle.
type CycleResult struct {
	Selected    int `json:"selected"`
	Refreshed   int `json:"refreshed"`
	RateLimited int `json:"rate_limited"`
	Failed      int `json:"failed"`
}

// SnapshotRefresher replaces the stored listings of the stalest items with
// fetched snapshots. The time table is a local copy used only for ordering;
// the store stays authoritative and is re-read every ReloadInterval.
type SnapshotRefresher struct {
	repo    repository.ListingRepository
	fetcher snapshot.Fetcher
	config  SnapshotConfig
	metrics *metrics.Metrics
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	// cycleMu serializes cycles started by Run and by the admin trigger.
	cycleMu  sync.Mutex
	mu       sync.Mutex
	table    map[string]time.Time
	loadedAt time.Time
	priority map[string]struct{}
	last     CycleResult
	cycles   int64
	// lastAge is how old the upstream snapshot was when last fetched.
	lastAge time.Duration
}

// NewSnapshotRefresher creates a new snapshot refresher.
func NewSnapshotRefresher(repo repository.ListingRepository, fetcher snapshot.Fetcher, config SnapshotConfig, m *metrics.Metrics) *SnapshotRefresher {
	def := DefaultSnapshotConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.PriorityBatchSize < 0 {
		config.PriorityBatchSize = 0
	}
	if config.RequestDelay < 0 {
		config.RequestDelay = 0
	}
	if config.RateLimitBackoff <= 0 {
		config.RateLimitBackoff = def.RateLimitBackoff
	}
	if config.IdleDelay <= 0 {
		config.IdleDelay = def.IdleDelay
	}
	if config.ReloadInterval <= 0 {
		config.ReloadInterval = def.ReloadInterval
	}

	limit := rate.Inf
	if config.RequestDelay > 0 {
		limit = rate.Every(config.RequestDelay)
	}

	priority := make(map[string]struct{}, len(config.Priority))
	for _, sku := range config.Priority {
		priority[sku] = struct{}{}
	}

	return &SnapshotRefresher{
		repo:     repo,
		fetcher:  fetcher,
		config:   config,
		metrics:  m,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
		sleep:    sleepCtx,
		priority: priority,
	}
}

// Run refreshes items until ctx is cancelled.
func (s *SnapshotRefresher) Run(ctx context.Context) error {
	log.Printf("[SnapshotRefresher] Started - batch: %d, priority batch: %d (%d prioritized), delay: %v",
		s.config.BatchSize, s.config.PriorityBatchSize, len(s.priority), s.config.RequestDelay)

	for {
		res, err := s.RunOnce(ctx)
		if ctx.Err() != nil {
			log.Printf("[SnapshotRefresher] Stopped")
			return ctx.Err()
		}
		if err != nil {
			log.Printf("[SnapshotRefresher] Cycle failed: %v", err)
		}
		if err != nil || res.Selected == 0 {
			if err := s.sleep(ctx, s.config.IdleDelay); err != nil {
				return err
			}
		}
	}
}

// RunOnce runs one refresh cycle.
func (s *SnapshotRefresher) RunOnce(ctx context.Context) (CycleResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	var res CycleResult
	if err := s.ensureTable(ctx); err != nil {
		return res, err
	}

	selection := s.Select()
	res.Selected = len(selection)

	for _, sku := range selection {
		if err := s.limiter.Wait(ctx); err != nil {
			return res, err
		}

		err := s.refreshItem(ctx, sku)
		var rl *snapshot.RateLimitError
		switch {
		case err == nil:
			res.Refreshed++
		case errors.As(err, &rl):
			res.RateLimited++
			s.metrics.Snapshot("rate_limited")
			backoff := s.config.RateLimitBackoff
			if rl.RetryAfter > backoff {
				backoff = rl.RetryAfter
			}
			log.Printf("[SnapshotRefresher] Rate limited on %s, backing off %v", sku, backoff)
			if err := s.sleep(ctx, backoff); err != nil {
				return res, err
			}
		case ctx.Err() != nil:
			return res, ctx.Err()
		default:
			res.Failed++
			log.Printf("[SnapshotRefresher] %v", err)
			// rotate locally so one broken item cannot pin the head of the queue
			s.setTime(sku, s.now())
		}
	}

	s.mu.Lock()
	s.last = res
	s.cycles++
	s.mu.Unlock()
	return res, nil
}

func (s *SnapshotRefresher) refreshItem(ctx context.Context, sku string) error {
	snap, err := s.fetcher.Fetch(ctx, sku, s.config.AppID)
	if err != nil {
		var rl *snapshot.RateLimitError
		if !errors.As(err, &rl) {
			s.metrics.Snapshot("fetch_error")
		}
		return err
	}

	now := s.now()
	if created := snap.Created(); !created.IsZero() {
		s.mu.Lock()
		s.lastAge = now.Sub(created)
		s.mu.Unlock()
	}
	listings := normalizeSnapshot(snap, now)

	if err := s.repo.ReplaceItemListings(ctx, sku, listings); err != nil {
		s.metrics.StoreError("replace")
		s.metrics.Snapshot("store_error")
		return err
	}
	if err := s.repo.RecordSnapshotTime(ctx, sku, now); err != nil {
		s.metrics.StoreError("snapshot_time")
		log.Printf("[SnapshotRefresher] Failed to record snapshot time of %s: %v", sku, err)
	}

	s.setTime(sku, now)
	s.metrics.Snapshot("ok")
	return nil
}

// normalizeSnapshot converts raw entries, keeping the last entry per (intent, trader).
func normalizeSnapshot(snap *snapshot.Snapshot, now time.Time) []model.Listing {
	listings := make([]model.Listing, 0, len(snap.Listings))
	index := make(map[model.ListingKey]int, len(snap.Listings))
	for _, raw := range snap.Listings {
		l := event.NormalizeListing(raw)
		if l == nil {
			continue
		}
		l.Stamp(now)
		key := l.Key("")
		if i, ok := index[key]; ok {
			listings[i] = *l
			continue
		}
		index[key] = len(listings)
		listings = append(listings, *l)
	}
	return listings
}

func (s *SnapshotRefresher) ensureTable(ctx context.Context) error {
	s.mu.Lock()
	fresh := s.table != nil && s.now().Sub(s.loadedAt) < s.config.ReloadInterval
	s.mu.Unlock()
	if fresh {
		return nil
	}

	times, err := s.repo.AllSnapshotTimes(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.table != nil {
			log.Printf("[SnapshotRefresher] Reload failed, keeping previous table: %v", err)
			return nil
		}
		return err
	}

	s.mu.Lock()
	s.table = times
	s.loadedAt = s.now()
	s.mu.Unlock()
	return nil
}

func (s *SnapshotRefresher) setTime(sku string, at time.Time) {
	s.mu.Lock()
	if s.table != nil {
		s.table[sku] = at
	}
	s.mu.Unlock()
}

type staleEntry struct {
	sku string
	at  time.Time
}

func stalest(entries []staleEntry, n int) []string {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].at.Equal(entries[j].at) {
			return entries[i].at.Before(entries[j].at)
		}
		return entries[i].sku < entries[j].sku
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.sku
	}
	return out
}

// Select returns the items of the next cycle: the stalest prioritized items
// interleaved with the globally stalest items, priority first, without duplicates.
// Prioritized items missing from the table count as never refreshed.
func (s *SnapshotRefresher) Select() []string {
	s.mu.Lock()
	all := make([]staleEntry, 0, len(s.table))
	for sku, at := range s.table {
		all = append(all, staleEntry{sku, at})
	}
	prio := make([]staleEntry, 0, len(s.priority))
	for sku := range s.priority {
		prio = append(prio, staleEntry{sku, s.table[sku]})
	}
	s.mu.Unlock()

	general := stalest(all, s.config.BatchSize)
	priority := stalest(prio, s.config.PriorityBatchSize)

	seen := make(map[string]bool, len(general)+len(priority))
	out := make([]string, 0, len(general)+len(priority))
	add := func(sku string) {
		if !seen[sku] {
			seen[sku] = true
			out = append(out, sku)
		}
	}
	for i := 0; i < len(general) || i < len(priority); i++ {
		if i < len(priority) {
			add(priority[i])
		}
		if i < len(general) {
			add(general[i])
		}
	}
	return out
}

// Stats returns refresher state for the admin API.
func (s *SnapshotRefresher) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"tracked_items":     len(s.table),
		"prioritized_items": len(s.priority),
		"cycles":            s.cycles,
		"last_cycle":        s.last,
		"table_loaded_at":   s.loadedAt,
		"last_snapshot_age": s.lastAge.String(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
