package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promGaugeBytesUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pisstaube_cache_bytes_used",
		Help: "Current total size of cached archives in bytes",
	})

	promGaugeBytesBudget = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pisstaube_cache_bytes_budget",
		Help: "Configured cache byte budget",
	})

	promCounterEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pisstaube_cache_evictions_total",
		Help: "The total number of evicted cache entries",
	})

	promCounterEvictionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pisstaube_cache_eviction_failures_total",
		Help: "The total number of eviction passes that could not reach the budget",
	})

	promCounterRejectedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pisstaube_cache_rejected_writes_total",
		Help: "The total number of archive writes refused for lack of space",
	})

	promCounterHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pisstaube_cache_hits_total",
		Help: "The total number of archives served from cache",
	})
)

// publishUsage 在持有 Manager.mu 时同步 gauge。
func publishUsage(a *Accounting) {
	promGaugeBytesUsed.Set(float64(a.Used()))
	promGaugeBytesBudget.Set(float64(a.Budget()))
}
