package api

import (
	"net/http"
	"runtime"
	"time"
)

// MetricsHandler returns basic runtime statistics, grounded on the
// teacher's own /metrics shape.
func (h *Handler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]uint64{
			"alloc":       m.Alloc,
			"total_alloc": m.TotalAlloc,
			"sys":         m.Sys,
			"num_gc":      uint64(m.NumGC),
		},
		"uptime_seconds": time.Since(h.startTime).Seconds(),
		"timestamp":      time.Now().UTC(),
	})
}
