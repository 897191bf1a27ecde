package rdt

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional instrumentation for one Runtime. AppliedOps,
// if set, should be a CounterVec keyed by an "op" label; it is nil-safe
// like every other metrics struct in this codebase.
type Metrics struct {
	AppliedOps *prometheus.CounterVec
}

func (m *Metrics) incApplied(opName string) {
	if m != nil && m.AppliedOps != nil {
		m.AppliedOps.WithLabelValues(opName).Inc()
	}
}
