package registry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional instrumentation for one Map.
type Metrics struct {
	Size prometheus.Gauge
}

func (m *Metrics) add(delta float64) {
	if m != nil && m.Size != nil {
		m.Size.Add(delta)
	}
}
