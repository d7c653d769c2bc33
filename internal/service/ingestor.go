package service

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync/atomic"

	"listingsync/internal/event"
	"listingsync/internal/feed"
	"listingsync/internal/identity"
	"listingsync/internal/metrics"
)

// IngestorConfig holds configuration for the ingestor.
type IngestorConfig struct {
	// AppID keeps only events for this application; 0 keeps everything.
	// Events that carry no app id are dropped.
	AppID int64

	// LogEvents logs every applied event.
	LogEvents bool
}

// Ingestor routes decoded feed frames: single events to the ListingService,
// batch frames to the Reconciler.
type Ingestor struct {
	config     IngestorConfig
	listings   *ListingService
	reconciler *Reconciler
	metrics    *metrics.Metrics

	frames  atomic.Int64
	applied atomic.Int64
	dropped atomic.Int64
}

// NewIngestor creates a new ingestor.
func NewIngestor(config IngestorConfig, listings *ListingService, reconciler *Reconciler, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		config:     config,
		listings:   listings,
		reconciler: reconciler,
		metrics:    m,
	}
}

// HandleFrame processes one raw frame. Failures are logged and counted;
// nothing here is allowed to break the connection.
func (i *Ingestor) HandleFrame(ctx context.Context, data []byte) {
	defer func() {
		if err := recover(); err != nil {
			i.metrics.Drop("panic")
			log.Printf("[Ingestor] PANIC: %v\n%s", err, debug.Stack())
		}
	}()

	frame, err := event.DecodeFrame(data)
	if err != nil {
		i.metrics.Drop("malformed_frame")
		i.dropped.Add(1)
		log.Printf("[Ingestor] Dropping frame: %v", err)
		return
	}
	i.frames.Add(1)
	i.metrics.Frame(frame.Kind.String())

	events := i.filter(frame.Events)

	switch frame.Kind {
	case event.FrameBatch:
		i.handleBatch(ctx, events)
	default:
		for _, ev := range events {
			i.handleSingle(ctx, ev)
		}
	}
}

// filter drops ignored events and events for other applications.
func (i *Ingestor) filter(events []event.Envelope) []event.Envelope {
	kept := events[:0:0]
	for _, ev := range events {
		kind := ev.Kind()
		i.metrics.Event(kind.String())
		if kind == event.KindIgnored {
			continue
		}
		if i.config.AppID != 0 {
			h, ok := event.PeekHeader(ev.Payload)
			if !ok {
				i.drop("unusable")
				continue
			}
			if h.AppID != i.config.AppID {
				i.drop("other_app")
				continue
			}
		}
		kept = append(kept, ev)
	}
	return kept
}

func (i *Ingestor) drop(reason string) {
	i.dropped.Add(1)
	i.metrics.Drop(reason)
}

func (i *Ingestor) handleSingle(ctx context.Context, ev event.Envelope) {
	var err error
	switch ev.Kind() {
	case event.KindUpdate:
		u := event.Normalize(ev.Payload)
		if u == nil {
			i.drop("unusable")
			return
		}
		err = i.listings.ApplyUpdate(ctx, *u)
		if err == nil && i.config.LogEvents {
			log.Printf("[Ingestor] listing-update for %s with intent %s and steamid %s (%s shape)",
				u.ItemName, u.Listing.Intent, u.Listing.SteamID, event.DetectShape(ev.Payload))
		}
	case event.KindDelete:
		d, ok := event.NormalizeDeletion(ev.Payload)
		if !ok {
			i.drop("unusable")
			return
		}
		err = i.listings.ApplyDeletion(ctx, d)
		if err == nil && i.config.LogEvents {
			log.Printf("[Ingestor] listing-delete for %s with intent %s and steamid %s", d.ItemName, d.Intent, d.SteamID)
		}
	}

	switch {
	case err == nil:
		i.applied.Add(1)
	case errors.Is(err, identity.ErrUnknownItem):
		i.dropped.Add(1)
	default:
		i.dropped.Add(1)
		log.Printf("[Ingestor] %s failed: %v", ev.Event, err)
	}
}

func (i *Ingestor) handleBatch(ctx context.Context, events []event.Envelope) {
	if len(events) == 0 {
		return
	}
	res, err := i.reconciler.Reconcile(ctx, events)
	i.dropped.Add(int64(res.Dropped))
	if err != nil {
		log.Printf("[Ingestor] Batch failed: %v", err)
		return
	}
	i.applied.Add(int64(len(events) - res.Dropped))
	if i.config.LogEvents {
		log.Printf("[Ingestor] Batch of %d events: %d deletes, %d inserts, %d dropped",
			len(events), res.Deletes, res.Inserts, res.Dropped)
	}
}

// Stats returns ingestion counters.
func (i *Ingestor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frames":  i.frames.Load(),
		"applied": i.applied.Load(),
		"dropped": i.dropped.Load(),
	}
}

var _ feed.FrameHandler = (*Ingestor)(nil)
