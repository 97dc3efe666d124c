package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Manager's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connects   *prometheus.CounterVec
	reconnects prometheus.Counter
	exhausted  prometheus.Counter
	state      prometheus.Gauge
	framesIn   *prometheus.CounterVec
	malformed  prometheus.Counter
	sends      *prometheus.CounterVec
	rtt        prometheus.Histogram
}

// NewMetrics builds the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "realtime_client",
			Name:      "connects_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "realtime_client",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect timers scheduled after abnormal closure.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "realtime_client",
			Name:      "reconnects_exhausted_total",
			Help:      "Times the reconnect policy gave up.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tasklink",
			Subsystem: "realtime_client",
			Name:      "state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 open, 3 closing, 4 reconnecting).",
		}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "realtime_client",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "realtime_client",
			Name:      "frames_malformed_total",
			Help:      "Inbound frames dropped because they could not be parsed.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "realtime_client",
			Name:      "comments_sent_total",
			Help:      "Outbound comments by result.",
		}, []string{"result"}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tasklink",
			Subsystem: "realtime_client",
			Name:      "ping_rtt_seconds",
			Help:      "Application ping/pong round trip time.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.connects, m.reconnects, m.exhausted, m.state, m.framesIn, m.malformed, m.sends, m.rtt)
	}
	return m
}

func (m *Metrics) connectResult(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) reconnectExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) frameIn(typ string) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(typ).Inc()
}

func (m *Metrics) frameMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) commentSent(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRTT(d time.Duration) {
	if m == nil {
		return
	}
	m.rtt.Observe(d.Seconds())
}
