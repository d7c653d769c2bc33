package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Event("listing-update")
	m.Event("listing-update")
	m.Drop("unresolved")
	m.AddEvicted(3)
	m.AddEvicted(0)
	m.SetConnected(true)

	if got := testutil.ToFloat64(m.Events.WithLabelValues("listing-update")); got != 2 {
		t.Fatalf("events=%v", got)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues("unresolved")); got != 1 {
		t.Fatalf("dropped=%v", got)
	}
	if got := testutil.ToFloat64(m.Evicted); got != 3 {
		t.Fatalf("evicted=%v", got)
	}
	if got := testutil.ToFloat64(m.FeedConnected); got != 1 {
		t.Fatalf("connected=%v", got)
	}
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.Frame("single")
	m.Event("ignored")
	m.Drop("x")
	m.StoreError("upsert")
	m.Reconnect()
	m.SetConnected(false)
	m.Snapshot("ok")
	m.AddEvicted(1)
	m.TaskRestart("feed")
}
