package monitoring

import (
	"time"
)

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordInvocation records a completed sandbox invocation. errorKind is
// empty for successes.
func (m *Metrics) RecordInvocation(engine, errorKind string, moduleBytes int, duration time.Duration) {
	status := "success"
	if errorKind != "" {
		status = "error"
	}
	m.InvocationsTotal.WithLabelValues(engine, status, errorKind).Inc()
	m.InvocationDuration.WithLabelValues(engine).Observe(duration.Seconds())
	m.ModuleSize.Observe(float64(moduleBytes))
}

// RecordCache applies the cumulative cache hit/miss totals reported by the
// engine. Counters only move forward, so deltas are applied.
func (m *Metrics) RecordCache(hits, misses uint64) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if hits >= m.lastCacheHits {
		m.CacheHits.Add(float64(hits - m.lastCacheHits))
	}
	if misses >= m.lastCacheMisses {
		m.CacheMisses.Add(float64(misses - m.lastCacheMisses))
	}
	m.lastCacheHits, m.lastCacheMisses = hits, misses
}
