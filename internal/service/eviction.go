package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"listingsync/internal/metrics"
	"listingsync/internal/repository"
)

// EvictionConfig holds configuration for the eviction sweeper.
type EvictionConfig struct {
	// Horizon is the retention window. Listings whose last update is older are removed.
	// Default: 24 hours
	Horizon time.Duration

	// Interval is how often the sweep repeats. Zero runs a single pass.
	Interval time.Duration

	// StartupDelay is the wait before the first pass.
	StartupDelay time.Duration

	// Timeout bounds one pass.
	// Default: 5 minutes
	Timeout time.Duration
}

// DefaultEvictionConfig returns default eviction configuration.
func DefaultEvictionConfig() EvictionConfig {
	return EvictionConfig{
		Horizon:  24 * time.Hour,
		Interval: 6 * time.Hour,
		Timeout:  5 * time.Minute,
	}
}

// EvictionSweeper removes stale listings from the store.
type EvictionSweeper struct {
	repo    repository.ListingRepository
	config  EvictionConfig
	metrics *metrics.Metrics

	mu        sync.Mutex
	lastRun   time.Time
	lastCount int64
	total     int64
}

// NewEvictionSweeper creates a new eviction sweeper.
func NewEvictionSweeper(repo repository.ListingRepository, config EvictionConfig, m *metrics.Metrics) *EvictionSweeper {
	if config.Horizon <= 0 {
		config.Horizon = 24 * time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	return &EvictionSweeper{repo: repo, config: config, metrics: m}
}

// Run performs the initial pass, then repeats on the interval until ctx is cancelled.
// With no interval it returns after the initial pass, with that pass's error.
func (s *EvictionSweeper) Run(ctx context.Context) error {
	log.Printf("[EvictionSweeper] Started - Interval: %v, Horizon: %v", s.config.Interval, s.config.Horizon)

	if s.config.StartupDelay > 0 {
		if err := sleepCtx(ctx, s.config.StartupDelay); err != nil {
			return err
		}
	}
	err := s.runSweep(ctx)
	if s.config.Interval <= 0 {
		if err != nil {
			return fmt.Errorf("single eviction pass failed: %w", err)
		}
		return nil
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-ctx.Done():
			log.Printf("[EvictionSweeper] Stopped")
			return ctx.Err()
		}
	}
}

func (s *EvictionSweeper) runSweep(ctx context.Context) error {
	log.Printf("[EvictionSweeper] Evicting listings older than %v", s.config.Horizon)

	evicted, err := s.RunNow(ctx)
	if err != nil {
		log.Printf("[EvictionSweeper] Error during eviction: %v", err)
		return err
	}

	if evicted > 0 {
		log.Printf("[EvictionSweeper] Evicted %d stale listings", evicted)
	} else {
		log.Printf("[EvictionSweeper] No stale listings to evict")
	}
	return nil
}

// RunNow triggers an immediate eviction pass.
func (s *EvictionSweeper) RunNow(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	evicted, err := s.repo.EvictOlderThan(ctx, s.config.Horizon)
	if err != nil {
		s.metrics.StoreError("evict")
		return 0, err
	}

	s.metrics.AddEvicted(evicted)
	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastCount = evicted
	s.total += evicted
	s.mu.Unlock()
	return evicted, nil
}

// Stats returns sweeper state for the admin API.
func (s *EvictionSweeper) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"horizon":       s.config.Horizon.String(),
		"interval":      s.config.Interval.String(),
		"last_run":      s.lastRun,
		"last_evicted":  s.lastCount,
		"total_evicted": s.total,
	}
}
