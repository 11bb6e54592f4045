// Package observability aggregates the Prometheus metric collectors for the
// pipeline subsystems on a single registry.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tphakala/autoscout-go/internal/observability/metrics"
)

// Metrics holds all subsystem metric collectors.
type Metrics struct {
	Dedup   *metrics.DedupMetrics
	Matcher *metrics.MatcherMetrics
	Notify  *metrics.NotifyMetrics

	registry *prometheus.Registry
}

// NewMetrics creates a registry with all subsystem collectors plus the
// standard Go runtime collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dedup, err := metrics.NewDedupMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("initializing dedup metrics: %w", err)
	}
	matcher, err := metrics.NewMatcherMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("initializing matcher metrics: %w", err)
	}
	notify, err := metrics.NewNotifyMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("initializing notify metrics: %w", err)
	}

	return &Metrics{
		Dedup:    dedup,
		Matcher:  matcher,
		Notify:   notify,
		registry: registry,
	}, nil
}

// Registry returns the underlying Prometheus registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
