package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_cache_lookup_total",
		Help: "Segment cache lookups, by result.",
	}, []string{"result"})

	cacheEvictionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_cache_eviction_total",
		Help: "Segment cache entries removed, by reason.",
	}, []string{"reason"})

	cacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexusm_cache_bytes",
		Help: "Total size of the segment cache after the last sweep.",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexusm_cache_entries",
		Help: "Number of segment cache entries after the last sweep.",
	})
)

// RecordCacheLookup counts a lookup outcome (hit, miss, stale, incomplete, corrupt).
func RecordCacheLookup(result string) {
	cacheLookupTotal.WithLabelValues(result).Inc()
}

// RecordCacheEviction counts one removed entry (ttl, size, stale, orphan, clear).
func RecordCacheEviction(reason string) {
	cacheEvictionTotal.WithLabelValues(reason).Inc()
}

// SetCacheUsage publishes the aggregate cache size.
func SetCacheUsage(entries int, bytes int64) {
	cacheEntries.Set(float64(entries))
	cacheBytes.Set(float64(bytes))
}
