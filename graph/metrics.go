package graph

import (
	"strconv"
	"time"
)

// MetricsSink receives scheduler telemetry: xrun occurrences, per-cycle
// duration (signal to driver finish), and per-node process() duration
// (SPEC_FULL.md §11 domain stack — exported as Prometheus collectors by
// package pwmetrics, kept decoupled here so graph never imports a metrics
// library directly). A nil sink (the default) disables all telemetry.
type MetricsSink interface {
	RecordXrun(nodeID uint32, nodeLabel string)
	ObserveCycle(driverID uint32, driverLabel string, d time.Duration)
	ObserveProcess(nodeID uint32, nodeLabel string, d time.Duration)
}

// nodeLabel derives the label a MetricsSink should use for n: its
// "node.name" prop if set, otherwise its Global id.
func nodeLabel(n *Node) string {
	if name, ok := n.Global.Prop("node.name"); ok && name != "" {
		return name
	}
	return strconv.FormatUint(uint64(n.Global.ID), 10)
}

// SetMetrics installs (or, with nil, removes) the telemetry sink every
// subsequent RunCycle reports through.
func (s *Scheduler) SetMetrics(m MetricsSink) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}
