// Package metrics holds the Prometheus collectors of the sync service.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "listingsync"

// Metrics groups the service counters.
type Metrics struct {
	Frames          *prometheus.CounterVec
	Events          *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	Reconnects      prometheus.Counter
	FeedConnected   prometheus.Gauge
	SnapshotResults *prometheus.CounterVec
	Evicted         prometheus.Counter
	TaskRestarts    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_frames_total",
			Help:      "Websocket frames received, by shape.",
		}, []string{"shape"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Feed events received, by classification.",
		}, []string{"kind"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_dropped_total",
			Help:      "Feed events dropped, by reason.",
		}, []string{"reason"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed store writes, by operation.",
		}, []string{"op"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Feed connections established after the first one.",
		}),
		FeedConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connected",
			Help:      "1 while the feed connection is up.",
		}),
		SnapshotResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_refreshes_total",
			Help:      "Snapshot refresh attempts, by result.",
		}, []string{"result"}),
		Evicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_listings_total",
			Help:      "Listings removed by the eviction sweeper.",
		}),
		TaskRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_restarts_total",
			Help:      "Supervised task restarts, by task.",
		}, []string{"task"}),
	}
}

func (m *Metrics) Frame(shape string) {
	if m != nil {
		m.Frames.WithLabelValues(shape).Inc()
	}
}

func (m *Metrics) Event(kind string) {
	if m != nil {
		m.Events.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Drop(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.FeedConnected.Set(1)
	} else {
		m.FeedConnected.Set(0)
	}
}

func (m *Metrics) Snapshot(result string) {
	if m != nil {
		m.SnapshotResults.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) AddEvicted(n int64) {
	if m != nil && n > 0 {
		m.Evicted.Add(float64(n))
	}
}

func (m *Metrics) TaskRestart(task string) {
	if m != nil {
		m.TaskRestarts.WithLabelValues(task).Inc()
	}
}
