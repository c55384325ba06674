package relay

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// metrics holds the relay's lifetime operational counters, each safe for
// concurrent use from the per-connection goroutines that update them.
// Grounded on the teacher's own test/integration/health_test.go, which
// names this exact response shape against a relay package that never
// implemented it — the same "test file is ground truth" situation already
// resolved for pkg/config and pkg/ratelimit.
type metrics struct {
	startTime         time.Time
	activeConnections atomic.Int64
	totalConnections  atomic.Int64
	totalEvents       atomic.Int64
	totalRequests     atomic.Int64
}

func newMetrics() *metrics {
	return &metrics{startTime: time.Now()}
}

// healthResponse is the JSON shape served from /health.
type healthResponse struct {
	Status            string  `json:"status"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Version           string  `json:"version"`
	ActiveConnections int     `json:"active_connections"`
	TotalConnections  int64   `json:"total_connections"`
	TotalEvents       int64   `json:"total_events"`
	TotalRequests     int64   `json:"total_requests"`
	PacketsPerSecond  float64 `json:"packets_per_second"`
	RateLimitedCount  int64   `json:"rate_limited_count"`
	MemoryUsageMB     float64 `json:"memory_usage_mb"`
	DatabaseStatus    string  `json:"database_status"`
	Timestamp         string  `json:"timestamp"`
}

// serveHealth writes the current health snapshot as JSON. Rate limiting
// here only ever paces outbound writes (SPEC_FULL.md §4.12), never rejects
// inbound traffic, so RateLimitedCount is always 0.
func (r *Relay) serveHealth(w http.ResponseWriter, req *http.Request) {
	uptime := time.Since(r.metrics.startTime).Seconds()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	totalEvents := r.metrics.totalEvents.Load()
	totalRequests := r.metrics.totalRequests.Load()
	var pps float64
	if uptime > 0 {
		pps = float64(totalEvents+totalRequests) / uptime
	}

	resp := healthResponse{
		Status:            "healthy",
		UptimeSeconds:     uptime,
		Version:           r.version,
		ActiveConnections: int(r.metrics.activeConnections.Load()),
		TotalConnections:  r.metrics.totalConnections.Load(),
		TotalEvents:       totalEvents,
		TotalRequests:     totalRequests,
		PacketsPerSecond:  pps,
		RateLimitedCount:  0,
		MemoryUsageMB:     float64(memStats.Alloc) / (1024 * 1024),
		DatabaseStatus:    "ok",
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
