package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"listingsync/internal/middleware"
	"listingsync/pkg/apierror"
	"listingsync/pkg/response"
)

// StoreStats reports store statistics.
type StoreStats interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// Evictor runs an eviction pass on demand.
type Evictor interface {
	RunNow(ctx context.Context) (int64, error)
}

// AdminConfig holds the admin handler dependencies. Sections are extra
// named stats blocks (feed, tasks, snapshot...) evaluated per request.
type AdminConfig struct {
	Store     StoreStats
	StoreType string
	Evictor   Evictor
	// Refresh runs one snapshot refresh cycle; nil when refreshing is disabled.
	Refresh  func(ctx context.Context) (interface{}, error)
	Sections map[string]func(ctx context.Context) interface{}
}

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	cfg       AdminConfig
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{cfg: cfg, startTime: time.Now()}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.cfg.StoreType

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.cfg.Store != nil {
		storeStats, err := h.cfg.Store.GetStats(ctx)
		if err != nil {
			stats["store"] = map[string]interface{}{"status": "error", "error": err.Error()}
		} else {
			stats["store"] = storeStats
		}
	}

	for name, section := range h.cfg.Sections {
		stats[name] = section(ctx)
	}

	response.OK(w, stats)
}

// Evict handles POST /api/v1/admin/evict
func (h *AdminHandler) Evict(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Evictor == nil {
		response.Error(w, apierror.ServiceUnavailable("eviction is not configured"))
		return
	}

	start := time.Now()
	evicted, err := h.cfg.Evictor.RunNow(r.Context())
	if err != nil {
		response.Error(w, apierror.InternalError("eviction failed").WithCause(err).
			WithRequestID(middleware.GetRequestID(r.Context())))
		return
	}

	response.OK(w, map[string]interface{}{
		"evicted":     evicted,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// Refresh handles POST /api/v1/admin/refresh
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Refresh == nil {
		response.Error(w, apierror.ServiceUnavailable("snapshot refresh is disabled"))
		return
	}

	result, err := h.cfg.Refresh(r.Context())
	if err != nil {
		response.Error(w, apierror.InternalError("refresh cycle failed").WithCause(err).
			WithRequestID(middleware.GetRequestID(r.Context())))
		return
	}
	response.OK(w, result)
}
