package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NotifyMetrics contains Prometheus metrics for the notification throttler
// and dispatcher handoff.
type NotifyMetrics struct {
	EmittedTotal        *prometheus.CounterVec // persisted notifications by type
	SuppressedTotal     *prometheus.CounterVec // suppressed matches by reason
	DigestsFlushedTotal prometheus.Counter     // digest notifications emitted
	DispatchTotal       *prometheus.CounterVec // dispatcher handoffs by status
	StatusReportsTotal  *prometheus.CounterVec // delivery status reports by status

	registry *prometheus.Registry
}

// NewNotifyMetrics creates a new instance of NotifyMetrics and registers it
// on the given registry.
func NewNotifyMetrics(registry *prometheus.Registry) (*NotifyMetrics, error) {
	m := &NotifyMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notify metrics: %w", err)
	}
	return m, nil
}

func (m *NotifyMetrics) initMetrics() {
	m.EmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_emitted_total",
			Help: "Total number of notifications persisted, by notification type",
		},
		[]string{"type"}, // listing_match, price_drop, digest
	)

	m.SuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_suppressed_total",
			Help: "Total number of matches suppressed without persisting a notification",
		},
		[]string{"reason"}, // daily_cap, duplicate
	)

	m.DigestsFlushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_digests_flushed_total",
			Help: "Total number of digest notifications emitted at period boundaries",
		},
	)

	m.DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dispatch_total",
			Help: "Total number of dispatcher handoffs by result status",
		},
		[]string{"status"}, // ok, error
	)

	m.StatusReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_status_reports_total",
			Help: "Total number of delivery status reports recorded, by status",
		},
		[]string{"status"}, // sent, delivered, failed
	)
}

// Describe implements the prometheus.Collector interface.
func (m *NotifyMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.EmittedTotal.Describe(ch)
	m.SuppressedTotal.Describe(ch)
	m.DigestsFlushedTotal.Describe(ch)
	m.DispatchTotal.Describe(ch)
	m.StatusReportsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *NotifyMetrics) Collect(ch chan<- prometheus.Metric) {
	m.EmittedTotal.Collect(ch)
	m.SuppressedTotal.Collect(ch)
	m.DigestsFlushedTotal.Collect(ch)
	m.DispatchTotal.Collect(ch)
	m.StatusReportsTotal.Collect(ch)
}
