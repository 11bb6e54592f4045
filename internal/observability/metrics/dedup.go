// Package metrics provides custom Prometheus metrics for the listing
// pipeline subsystems.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DedupMetrics contains Prometheus metrics for deduplication operations.
type DedupMetrics struct {
	ClassificationsTotal *prometheus.CounterVec // classifications by outcome
	RejectedTotal        prometheus.Counter     // malformed listings rejected
	ConflictRetriesTotal prometheus.Counter     // optimistic lock retries
	ConflictSkipsTotal   prometheus.Counter     // listings skipped after retry exhaustion
	SweptTotal           prometheus.Counter     // listings marked inactive by the sweep
	ProcessDuration      prometheus.Histogram   // per-listing processing latency

	registry *prometheus.Registry
}

// NewDedupMetrics creates a new instance of DedupMetrics and registers it on
// the given registry.
func NewDedupMetrics(registry *prometheus.Registry) (*DedupMetrics, error) {
	m := &DedupMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register dedup metrics: %w", err)
	}
	return m, nil
}

func (m *DedupMetrics) initMetrics() {
	m.ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_classifications_total",
			Help: "Total number of listing classifications by outcome",
		},
		[]string{"outcome"}, // new, price_update, unchanged
	)

	m.RejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_rejected_listings_total",
			Help: "Total number of malformed listings rejected during ingest",
		},
	)

	m.ConflictRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_conflict_retries_total",
			Help: "Total number of optimistic lock retries on listing updates",
		},
	)

	m.ConflictSkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_conflict_skips_total",
			Help: "Total number of listings skipped after exhausting conflict retries",
		},
	)

	m.SweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_swept_listings_total",
			Help: "Total number of active listings marked inactive by the sweep",
		},
	)

	m.ProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dedup_process_duration_seconds",
			Help:    "Time taken to classify and persist a single listing",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)
}

// Describe implements the prometheus.Collector interface.
func (m *DedupMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ClassificationsTotal.Describe(ch)
	m.RejectedTotal.Describe(ch)
	m.ConflictRetriesTotal.Describe(ch)
	m.ConflictSkipsTotal.Describe(ch)
	m.SweptTotal.Describe(ch)
	m.ProcessDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DedupMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ClassificationsTotal.Collect(ch)
	m.RejectedTotal.Collect(ch)
	m.ConflictRetriesTotal.Collect(ch)
	m.ConflictSkipsTotal.Collect(ch)
	m.SweptTotal.Collect(ch)
	m.ProcessDuration.Collect(ch)
}
