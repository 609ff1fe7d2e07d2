package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	PatrolsTotal       uint64
	PatrolsRunning     uint64
	PatrolsFailed      uint64
	ItemsChecked       uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

// IncrementRequests increments total request counter
func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

// IncrementInProgress increments in-progress request counter
func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

// DecrementInProgress decrements in-progress request counter
func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

// IncrementSuccess increments successful request counter
func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

// IncrementFailed increments failed request counter
func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

// IncrementPatrols increments total patrol counter
func IncrementPatrols() {
	atomic.AddUint64(&globalMetrics.PatrolsTotal, 1)
}

// IncrementPatrolsRunning increments running patrol counter
func IncrementPatrolsRunning() {
	atomic.AddUint64(&globalMetrics.PatrolsRunning, 1)
}

// DecrementPatrolsRunning decrements running patrol counter
func DecrementPatrolsRunning() {
	atomic.AddUint64(&globalMetrics.PatrolsRunning, ^uint64(0))
}

// IncrementPatrolsFailed increments failed patrol counter
func IncrementPatrolsFailed() {
	atomic.AddUint64(&globalMetrics.PatrolsFailed, 1)
}

// AddItemsChecked adds to the checked item counter
func AddItemsChecked(n int) {
	if n > 0 {
		atomic.AddUint64(&globalMetrics.ItemsChecked, uint64(n))
	}
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"patrols_total":        atomic.LoadUint64(&globalMetrics.PatrolsTotal),
		"patrols_running":      atomic.LoadUint64(&globalMetrics.PatrolsRunning),
		"patrols_failed":       atomic.LoadUint64(&globalMetrics.PatrolsFailed),
		"items_checked":        atomic.LoadUint64(&globalMetrics.ItemsChecked),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= 200 && rec.status < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
