// Package metrics defines the Prometheus collectors of the repository and
// the index sync.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vishallnvk/knowlio/retry"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	// StoreAttempts counts failed store attempts by fault class.
	StoreAttempts *prometheus.CounterVec

	// RetriesExhausted counts store calls that ran out of attempts.
	RetriesExhausted *prometheus.CounterVec

	// Operations counts repository operations by outcome.
	Operations *prometheus.CounterVec

	// OperationLatency tracks repository operation latency.
	OperationLatency *prometheus.HistogramVec

	// ResidualRejected counts fetched records dropped by residual filters.
	ResidualRejected *prometheus.CounterVec

	// IndexSync counts search index writes from the change stream.
	IndexSync *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		StoreAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowlio_store_failed_attempts_total",
				Help: "Total number of failed store attempts",
			},
			[]string{"op", "class"},
		),
		RetriesExhausted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowlio_store_retries_exhausted_total",
				Help: "Total number of store calls that exhausted their retries",
			},
			[]string{"op"},
		),
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowlio_repository_operations_total",
				Help: "Total number of repository operations",
			},
			[]string{"kind", "op", "result"},
		),
		OperationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knowlio_repository_operation_seconds",
				Help:    "Repository operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "op"},
		),
		ResidualRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowlio_residual_rejected_total",
				Help: "Total number of fetched records rejected by residual filters",
			},
			[]string{"kind"},
		),
		IndexSync: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowlio_index_sync_total",
				Help: "Total number of search index writes from the change stream",
			},
			[]string{"action", "result"},
		),
	}
}

// Attempt implements retry.Recorder.
func (m *Metrics) Attempt(op string, class retry.Class) {
	if m == nil {
		return
	}
	m.StoreAttempts.WithLabelValues(op, class.String()).Inc()
}

// Exhausted implements retry.Recorder.
func (m *Metrics) Exhausted(op string) {
	if m == nil {
		return
	}
	m.RetriesExhausted.WithLabelValues(op).Inc()
}

// Observe records one repository operation.
func (m *Metrics) Observe(kind, op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind, op, result).Inc()
	m.OperationLatency.WithLabelValues(kind, op).Observe(elapsed.Seconds())
}

// Rejected records records dropped by residual filters.
func (m *Metrics) Rejected(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ResidualRejected.WithLabelValues(kind).Add(float64(n))
}

// Synced records one search index write.
func (m *Metrics) Synced(action, result string) {
	if m == nil {
		return
	}
	m.IndexSync.WithLabelValues(action, result).Inc()
}
