// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ConnectedPeers  prometheus.Gauge
	ActiveRooms     prometheus.Gauge
	FramesRelayed   *prometheus.CounterVec
	FramesThrottled prometheus.Counter
	Malformed       *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	TickDuration    prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Number of connected peers",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of active rooms",
		}),
		FramesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Frames forwarded between peers, by frame type",
		}, []string{"type"}),
		FramesThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_throttled_total",
			Help:      "Inbound frames dropped by the per-session rate limit",
		}),
		Malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_payloads_total",
			Help:      "Payloads discarded because they failed to decode or validate",
		}, []string{"source"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obstacle_transitions_total",
			Help:      "Obstacle transition events by kind and whether they changed local state",
		}, []string{"kind", "result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Simulation tick processing time",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.ConnectedPeers,
		m.ActiveRooms,
		m.FramesRelayed,
		m.FramesThrottled,
		m.Malformed,
		m.Transitions,
		m.TickDuration,
	)

	return m
}

// Monitor records simulation and relay metrics. A nil *Monitor is valid and
// records nothing.
type Monitor struct {
	metrics    *Metrics
	startTime  time.Time
	frameCount int64
	mutex      sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	return NewMonitorWith(namespace, prometheus.DefaultRegisterer)
}

func NewMonitorWith(namespace string, reg prometheus.Registerer) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		startTime: time.Now(),
	}
}

func (m *Monitor) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("frames", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.frameCount
	}))

	go http.ListenAndServe(addr, mux)
}

func (m *Monitor) IncConnectedPeers() {
	if m == nil {
		return
	}
	m.metrics.ConnectedPeers.Inc()
}

func (m *Monitor) DecConnectedPeers() {
	if m == nil {
		return
	}
	m.metrics.ConnectedPeers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncFramesRelayed(frameType string) {
	if m == nil {
		return
	}
	m.metrics.FramesRelayed.WithLabelValues(frameType).Inc()
	m.mutex.Lock()
	m.frameCount++
	m.mutex.Unlock()
}

func (m *Monitor) IncFramesThrottled() {
	if m == nil {
		return
	}
	m.metrics.FramesThrottled.Inc()
}

func (m *Monitor) IncMalformed(source string) {
	if m == nil {
		return
	}
	m.metrics.Malformed.WithLabelValues(source).Inc()
}

// ObserveTransition counts a received or requested obstacle transition.
func (m *Monitor) ObserveTransition(kind string, applied bool) {
	if m == nil {
		return
	}
	result := "ignored"
	if applied {
		result = "applied"
	}
	m.metrics.Transitions.WithLabelValues(kind, result).Inc()
}

func (m *Monitor) ObserveTick(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.TickDuration.Observe(duration.Seconds())
}

func (m *Monitor) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}
