package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// gathered sums the samples of a counter or gauge family matching labels.
func gathered(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			match := true
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if !match {
				continue
			}
			total += metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
		}
	}
	return total
}

func TestMonitor_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitorWith("test", reg)

	m.IncConnectedPeers()
	m.IncConnectedPeers()
	m.DecConnectedPeers()
	m.IncMalformed("glass")
	m.ObserveTransition("falling", true)
	m.ObserveTransition("falling", false)
	m.ObserveTransition("falling", false)
	m.ObserveTick(time.Millisecond)

	if got := gathered(t, reg, "test_connected_peers", nil); got != 1 {
		t.Errorf("Expected 1 connected peer, got %v", got)
	}
	if got := gathered(t, reg, "test_malformed_payloads_total", map[string]string{"source": "glass"}); got != 1 {
		t.Errorf("Expected 1 malformed payload, got %v", got)
	}
	if got := gathered(t, reg, "test_obstacle_transitions_total", map[string]string{"result": "ignored"}); got != 2 {
		t.Errorf("Expected 2 ignored transitions, got %v", got)
	}
}

func TestMonitor_NilIsNoop(t *testing.T) {
	var m *Monitor
	m.IncConnectedPeers()
	m.IncMalformed("shoot")
	m.ObserveTick(time.Second)
	if m.Metrics() != nil {
		t.Error("nil monitor should have no metrics")
	}
}
