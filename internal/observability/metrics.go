package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "movimentoterra",
		Subsystem: "persistence",
		Name:      "last_attivita_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity committed to Postgres.",
	})

	guardRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movimentoterra",
		Subsystem: "guard",
		Name:      "edit_window_rejections_total",
		Help:      "Number of non-admin mutations rejected by the 7-day edit window.",
	})

	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movimentoterra",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by projection kind and result.",
	}, []string{"kind", "result"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movimentoterra",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movimentoterra",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(activityPersistGauge, guardRejections, cacheLookups, httpRequests, httpDuration)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordGuardRejection counts an edit window rejection.
func RecordGuardRejection() {
	guardRejections.Inc()
}

// RecordCacheHit counts a cache hit for the projection kind.
func RecordCacheHit(kind string) {
	cacheLookups.WithLabelValues(kind, "hit").Inc()
}

// RecordCacheMiss counts a cache miss for the projection kind.
func RecordCacheMiss(kind string) {
	cacheLookups.WithLabelValues(kind, "miss").Inc()
}

// RecordHTTPRequest observes one served request.
func RecordHTTPRequest(method, route, status string, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
