// Package prometheus provides a Prometheus-backed framecache.MetricsCollector.
package prometheus

import (
	"time"

	"github.com/hupe1980/framecache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "framecache"

var _ framecache.MetricsCollector = (*Collector)(nil)

// Collector records cache, pool and preload metrics into a Prometheus registry.
type Collector struct {
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	lookups       *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	evictedBytes  *prometheus.CounterVec
	preloads      prometheus.Counter
	preloadKeys   *prometheus.CounterVec
	preloadTime   prometheus.Histogram
	cacheIOErrors *prometheus.CounterVec
}

// New registers the collector's metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	f := promauto.With(reg)

	return &Collector{
		tasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of tasks that reached a terminal status",
			},
			[]string{"type", "status"}, // status: "completed", "failed", "cancelled"
		),
		taskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_milliseconds",
				Help:      "Run time of tasks in milliseconds",
				Buckets: []float64{
					1,     // 1ms - cached analysis
					5,     // 5ms
					10,    // 10ms
					50,    // 50ms - typical thumbnail
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - frame ranges
					30000, // 30s
				},
			},
			[]string{"type"},
		),
		lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of cache lookups by tier and result",
			},
			[]string{"tier", "result"}, // result: "hit", "miss"
		),
		evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Total number of evicted entries by tier and reason",
			},
			[]string{"tier", "reason"},
		),
		evictedBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evicted_bytes_total",
				Help:      "Total payload bytes released by evictions",
			},
			[]string{"tier"},
		),
		preloads: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preload_requests_total",
				Help:      "Total number of processed preload requests",
			},
		),
		preloadKeys: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preload_keys_total",
				Help:      "Keys considered by preload requests by outcome",
			},
			[]string{"outcome"}, // "submitted", "resident", "failed"
		),
		preloadTime: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "preload_duration_seconds",
				Help:      "Time spent processing a preload request",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		cacheIOErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_io_errors_total",
				Help:      "Persistent tier failures absorbed by the cache",
			},
			[]string{"op"},
		),
	}
}

// RecordTask implements framecache.MetricsCollector.
func (c *Collector) RecordTask(taskType, status string, duration time.Duration) {
	c.tasks.WithLabelValues(taskType, status).Inc()
	if duration > 0 {
		c.taskDuration.WithLabelValues(taskType).Observe(float64(duration) / float64(time.Millisecond))
	}
}

// RecordCacheLookup implements framecache.MetricsCollector.
func (c *Collector) RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.lookups.WithLabelValues(tier, result).Inc()
}

// RecordEviction implements framecache.MetricsCollector.
func (c *Collector) RecordEviction(tier, reason string, sizeBytes int64) {
	c.evictions.WithLabelValues(tier, reason).Inc()
	if sizeBytes > 0 {
		c.evictedBytes.WithLabelValues(tier).Add(float64(sizeBytes))
	}
}

// RecordPreload implements framecache.MetricsCollector.
func (c *Collector) RecordPreload(submitted, resident, failed int, duration time.Duration) {
	c.preloads.Inc()
	c.preloadKeys.WithLabelValues("submitted").Add(float64(submitted))
	c.preloadKeys.WithLabelValues("resident").Add(float64(resident))
	c.preloadKeys.WithLabelValues("failed").Add(float64(failed))
	c.preloadTime.Observe(duration.Seconds())
}

// RecordCacheIOError implements framecache.MetricsCollector.
func (c *Collector) RecordCacheIOError(op string) {
	c.cacheIOErrors.WithLabelValues(op).Inc()
}
