// Package metrics defines SNAS's Prometheus metrics, adapted from
// warren's pkg/metrics: package-level collectors registered once at
// init, plus a Timer helper for histogram observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snas_users_total",
			Help: "Total number of user records in the credential store",
		},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snas_store_operations_total",
			Help: "Total number of credential store operations by operation and result",
		},
		[]string{"op", "result"},
	)

	StoreConflictRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snas_store_conflict_retries_total",
			Help: "Total number of compare-and-swap retries against the KV backend",
		},
	)

	AuthVerifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snas_auth_verify_total",
			Help: "Total number of credential verification attempts by result",
		},
		[]string{"result"},
	)

	TransportRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snas_transport_requests_total",
			Help: "Total number of requests handled by a transport, by transport, method, and result",
		},
		[]string{"transport", "method", "result"},
	)

	HashDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snas_hash_duration_seconds",
			Help:    "Time taken to hash or verify a password with Argon2id",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snas_store_operation_duration_seconds",
			Help:    "Credential store operation duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(StoreOperationsTotal)
	prometheus.MustRegister(StoreConflictRetriesTotal)
	prometheus.MustRegister(AuthVerifyTotal)
	prometheus.MustRegister(TransportRequestsTotal)
	prometheus.MustRegister(HashDuration)
	prometheus.MustRegister(StoreOperationDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
