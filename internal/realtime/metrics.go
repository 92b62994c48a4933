package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics are registered on the registerer passed to NewMetrics so tests can
// use an isolated registry.
type Metrics struct {
	Connections   prometheus.Gauge
	Online        prometheus.Gauge
	Rooms         prometheus.Gauge
	Events        *prometheus.CounterVec
	Notices       *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Flushes       *prometheus.CounterVec
	BatchSize     prometheus.Histogram
	SlowConsumers prometheus.Counter
	StatusFailed  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Admitted WebSocket connections currently open",
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_presence_online_users",
			Help: "Identities with at least one open connection",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Rooms with at least one member",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Inbound events accepted by the dispatcher",
		}, []string{"type"}),
		Notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_notices_total",
			Help: "Error notices sent to connections",
		}, []string{"code"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_handshake_rejections_total",
			Help: "Connection attempts rejected by the session gate",
		}, []string{"reason"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_batch_flushes_total",
			Help: "Coalesced batches emitted",
		}, []string{"reason"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_batch_size",
			Help:    "Envelopes per emitted batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		}),
		SlowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_ws_slow_consumers_total",
			Help: "Connections dropped because their send buffer was full",
		}),
		StatusFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_presence_persist_failures_total",
			Help: "Failed writes of presence or status to the user store",
		}),
	}

	reg.MustRegister(
		m.Connections, m.Online, m.Rooms, m.Events, m.Notices, m.Rejections,
		m.Flushes, m.BatchSize, m.SlowConsumers, m.StatusFailed,
	)
	return m
}
