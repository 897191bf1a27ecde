package paxos

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the optional instrumentation a Log may be constructed
// with. Every field is nil-checked before use, matching the teacher's
// ProposerMetrics convention of passing a small struct of
// prometheus.Gauge/Counter/Observer fields in at construction rather
// than reaching for a package-global registry.
type Metrics struct {
	InFlightInstances  prometheus.Gauge
	DecidedSlots       prometheus.Counter
	RedeliveryRejected prometheus.Counter
	InstanceLifespan   prometheus.Observer
}

func (m *Metrics) incInFlight() {
	if m != nil && m.InFlightInstances != nil {
		m.InFlightInstances.Inc()
	}
}

func (m *Metrics) decInFlight() {
	if m != nil && m.InFlightInstances != nil {
		m.InFlightInstances.Dec()
	}
}

func (m *Metrics) incDecided() {
	if m != nil && m.DecidedSlots != nil {
		m.DecidedSlots.Inc()
	}
}

func (m *Metrics) incRedeliveryRejected() {
	if m != nil && m.RedeliveryRejected != nil {
		m.RedeliveryRejected.Inc()
	}
}

func (m *Metrics) observeLifespanSeconds(seconds float64) {
	if m != nil && m.InstanceLifespan != nil {
		m.InstanceLifespan.Observe(seconds)
	}
}
