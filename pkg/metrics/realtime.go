package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics exports the live subscription state of the realtime hub.
type RealtimeMetrics struct {
	connections   prometheus.Gauge
	subscriptions *prometheus.GaugeVec
	delivered     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
}

func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		return &RealtimeMetrics{}
	}
	m := &RealtimeMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open realtime WebSocket connections.",
		}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscriptions",
			Help:      "Active realtime subscriptions.",
		}, []string{"table"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_delivered_total",
			Help:      "Change events delivered to subscribers.",
		}, []string{"table"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Change events dropped because a subscriber was too slow.",
		}, []string{"table"}),
	}
	reg.MustRegister(m.connections, m.subscriptions, m.delivered, m.dropped)
	return m
}

func (m *RealtimeMetrics) ConnectionOpened() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Inc()
}

func (m *RealtimeMetrics) ConnectionClosed() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Dec()
}

func (m *RealtimeMetrics) SubscriptionAdded(table string) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.WithLabelValues(normalizeLabel(table)).Inc()
}

func (m *RealtimeMetrics) SubscriptionRemoved(table string) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.WithLabelValues(normalizeLabel(table)).Dec()
}

func (m *RealtimeMetrics) IncDelivered(table string) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.WithLabelValues(normalizeLabel(table)).Inc()
}

func (m *RealtimeMetrics) IncDropped(table string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(table)).Inc()
}
