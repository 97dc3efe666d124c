package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the gateway's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessions     prometheus.Gauge
	accepts      *prometheus.CounterVec
	frames       *prometheus.CounterVec
	comments     *prometheus.CounterVec
	deliveries   prometheus.Counter
	rooms        prometheus.Gauge
	restRequests *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tasklink",
			Subsystem: "gateway",
			Name:      "sessions_active",
			Help:      "Open websocket sessions.",
		}),
		accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "gateway",
			Name:      "handshakes_total",
			Help:      "Websocket handshakes by result.",
		}, []string{"result"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		comments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "gateway",
			Name:      "comments_total",
			Help:      "Posted comments by result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "gateway",
			Name:      "room_deliveries_total",
			Help:      "Frames queued to room members by broadcasts.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tasklink",
			Subsystem: "gateway",
			Name:      "rooms_active",
			Help:      "Task rooms with at least one member.",
		}),
		restRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasklink",
			Subsystem: "gateway",
			Name:      "comments_page_requests_total",
			Help:      "REST comments page requests by status code class.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.accepts, m.frames, m.comments, m.deliveries, m.rooms, m.restRequests)
	}
	return m
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) handshake(result string) {
	if m != nil {
		m.accepts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) frameIn(typ string) {
	if m != nil {
		m.frames.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) comment(result string) {
	if m != nil {
		m.comments.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) delivered(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(float64(n))
	}
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) restRequest(code string) {
	if m != nil {
		m.restRequests.WithLabelValues(code).Inc()
	}
}
