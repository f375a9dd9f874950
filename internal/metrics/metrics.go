// Package metrics exposes Prometheus collectors for the offline worker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	cacheWritesTotal           *prometheus.CounterVec
	prefetchURLsTotal          *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	queueUnsent                prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_fetch_total",
				Help: "Intercepted fetches, labeled by request category and answering source.",
			},
			[]string{"category", "source"},
		)

		cacheWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_writes_total",
				Help: "Cache tier writes, labeled by tier and result.",
			},
			[]string{"tier", "result"},
		)

		prefetchURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_prefetch_urls_total",
				Help: "Catalog URLs handled by the prefetcher, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_notifications_total",
				Help: "Notification outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		queueUnsent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "offline_queue_unsent",
				Help: "Unsent notification records seen by the last queue pass.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "offline_rate_limit_delays_seconds",
				Help:    "Histogram of prefetch rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts an intercepted fetch and where its answer came from.
func ObserveFetch(category, source string) {
	Init()
	fetchTotal.WithLabelValues(category, source).Inc()
}

// ObserveCacheWrite counts a tier write attempt.
func ObserveCacheWrite(tier, result string) {
	Init()
	cacheWritesTotal.WithLabelValues(tier, result).Inc()
}

// ObservePrefetch counts one prefetched URL.
func ObservePrefetch(kind, result string) {
	Init()
	prefetchURLsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveNotification counts a notification outcome (shown, failed, proactive, clicked, closed).
func ObserveNotification(result string) {
	Init()
	notificationsTotal.WithLabelValues(result).Inc()
}

// SetQueueUnsent records the unsent backlog size.
func SetQueueUnsent(n int) {
	Init()
	queueUnsent.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
