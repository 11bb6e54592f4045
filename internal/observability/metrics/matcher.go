package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MatcherMetrics contains Prometheus metrics for alert matching operations.
type MatcherMetrics struct {
	EvaluationsTotal prometheus.Counter   // alert evaluations performed
	MatchesTotal     prometheus.Counter   // evaluations that matched
	EvalDuration     prometheus.Histogram // per-listing matching latency

	registry *prometheus.Registry
}

// NewMatcherMetrics creates a new instance of MatcherMetrics and registers it
// on the given registry.
func NewMatcherMetrics(registry *prometheus.Registry) (*MatcherMetrics, error) {
	m := &MatcherMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register matcher metrics: %w", err)
	}
	return m, nil
}

func (m *MatcherMetrics) initMetrics() {
	m.EvaluationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matcher_evaluations_total",
			Help: "Total number of alert evaluations against listings",
		},
	)

	m.MatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matcher_matches_total",
			Help: "Total number of alert evaluations that matched",
		},
	)

	m.EvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matcher_eval_duration_seconds",
			Help:    "Time taken to evaluate all active alerts for one listing",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)
}

// Describe implements the prometheus.Collector interface.
func (m *MatcherMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.EvaluationsTotal.Describe(ch)
	m.MatchesTotal.Describe(ch)
	m.EvalDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *MatcherMetrics) Collect(ch chan<- prometheus.Metric) {
	m.EvaluationsTotal.Collect(ch)
	m.MatchesTotal.Collect(ch)
	m.EvalDuration.Collect(ch)
}
