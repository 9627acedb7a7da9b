// Package metrics adapts the teacher's unused Recorder into the
// per-service /metrics endpoint SPEC_FULL.md §4 adds: builds hosted,
// queue depth, cache readiness and build duration.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "buildfleet"

// Recorder holds the collectors a service exports to Prometheus.
type Recorder struct {
	Log *log.Logger

	BuildsHosted  *prometheus.GaugeVec
	QueueDepth    prometheus.Gauge
	CacheReady    prometheus.Gauge
	BuildDuration *prometheus.HistogramVec
	Notifications *prometheus.CounterVec
}

// NewRecorder initializes a Recorder and registers its collectors against
// the default registry.
func NewRecorder(logger *log.Logger) *Recorder {
	r := new(Recorder)
	r.Log = logger

	r.BuildsHosted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "builds_hosted",
			Help:      "The number of builds currently running, by platform",
		},
		[]string{"platform"},
	)

	r.QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notification_queue_depth",
		Help:      "The number of undelivered notifications in the durable queue",
	})

	r.CacheReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_ready",
		Help:      "1 if ready.lock is present, 0 otherwise",
	})

	r.BuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of a build-child invocation",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12), // 10s .. ~5.7h
		},
		[]string{"platform", "outcome"},
	)

	r.Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications drained by the Notifier, by outcome",
		},
		[]string{"outcome"},
	)

	return r
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.Handler()
}
