// Package pwmetrics exports the graph engine's cycle/xrun/process telemetry
// as Prometheus collectors (SPEC_FULL.md §11 DOMAIN STACK), implementing
// graph.MetricsSink so the scheduler never imports a metrics library
// directly.
//
// Grounded on r3e-network-service_layer's infrastructure/metrics/metrics.go:
// a struct of eagerly-constructed, eagerly-registered CounterVec/
// HistogramVec fields with small Record*/Observe* methods, rather than a
// pull-based prometheus.Collector that re-derives state on every scrape —
// the same imperative-update shape that package's Metrics.RecordHTTPRequest
// uses.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pwcore/node-graph/graph"
)

// Metrics holds every collector this package registers.
type Metrics struct {
	registry *prometheus.Registry

	XrunCount       *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	ProcessDuration *prometheus.HistogramVec
}

// NewWithRegistry constructs Metrics registering every collector against
// reg. Panics (via prometheus.MustRegister) on a duplicate registration,
// matching the donor's own NewWithRegistry contract.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		XrunCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pw_node_xrun_count",
			Help: "Cumulative count of cycles a node failed to finish before its driver's next tick.",
		}, []string{"node"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pw_cycle_duration_seconds",
			Help:    "Wall-clock duration of one driver cycle, signal to finish.",
			Buckets: prometheus.ExponentialBuckets(0.000025, 2, 16),
		}, []string{"driver"}),
		ProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pw_node_process_seconds",
			Help:    "Wall-clock duration of a single node's process() call.",
			Buckets: prometheus.ExponentialBuckets(0.000025, 2, 16),
		}, []string{"node"}),
	}
	reg.MustRegister(m.XrunCount, m.CycleDuration, m.ProcessDuration)
	return m
}

// New constructs Metrics against a fresh, private registry (use Registry to
// pass it to an HTTP handler).
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// Registry returns the registry m's collectors are registered against, for
// wiring into promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordXrun implements graph.MetricsSink.
func (m *Metrics) RecordXrun(nodeID uint32, nodeLabel string) {
	m.XrunCount.WithLabelValues(nodeLabel).Inc()
}

// ObserveCycle implements graph.MetricsSink.
func (m *Metrics) ObserveCycle(driverID uint32, driverLabel string, d time.Duration) {
	m.CycleDuration.WithLabelValues(driverLabel).Observe(d.Seconds())
}

// ObserveProcess implements graph.MetricsSink.
func (m *Metrics) ObserveProcess(nodeID uint32, nodeLabel string, d time.Duration) {
	m.ProcessDuration.WithLabelValues(nodeLabel).Observe(d.Seconds())
}

var _ graph.MetricsSink = (*Metrics)(nil)
