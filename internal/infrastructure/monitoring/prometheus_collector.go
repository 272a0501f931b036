package monitoring

import (
	"medea/internal/core/domain"
	"medea/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	roomsActive    prometheus.Gauge
	roomsStarted   prometheus.Counter
	connsActive    prometheus.Gauge
	connsOpened    prometheus.Counter
	connsClosed    *prometheus.CounterVec
	peersActive    prometheus.Gauge
	peersCreated   prometheus.Counter
	commands       *prometheus.CounterVec
	callbacks      *prometheus.CounterVec
	callbacksState *prometheus.GaugeVec
}

var _ ports.SignallingMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the signalling metrics with reg; nil
// means the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medea_rooms_active",
			Help: "Number of running rooms",
		}),

		roomsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "medea_rooms_started_total",
			Help: "Total number of rooms started",
		}),

		connsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medea_rpc_connections_active",
			Help: "Number of member connections bound to rooms",
		}),

		connsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "medea_rpc_connections_opened_total",
			Help: "Total number of member connections established",
		}),

		connsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medea_rpc_connections_closed_total",
			Help: "Total number of member connections closed by reason",
		}, []string{"reason"}),

		peersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medea_peers_active",
			Help: "Number of peers across all rooms",
		}),

		peersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "medea_peers_created_total",
			Help: "Total number of peers created",
		}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medea_commands_total",
			Help: "Client commands handled by rooms",
		}, []string{"command", "result"}),

		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medea_callbacks_total",
			Help: "Callback deliveries by kind and result",
		}, []string{"kind", "result"}),

		callbacksState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medea_callback_breaker_open",
			Help: "1 while the circuit breaker of a callback host is open",
		}, []string{"host"}),
	}
}

func (p *PrometheusCollector) RoomStarted() {
	p.roomsActive.Inc()
	p.roomsStarted.Inc()
}

func (p *PrometheusCollector) RoomClosed() {
	p.roomsActive.Dec()
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connsActive.Inc()
	p.connsOpened.Inc()
}

func (p *PrometheusCollector) ConnectionClosed(reason domain.ClosedReason) {
	p.connsActive.Dec()
	p.connsClosed.WithLabelValues(reason.String()).Inc()
}

func (p *PrometheusCollector) PeersCreated(n int) {
	p.peersActive.Add(float64(n))
	p.peersCreated.Add(float64(n))
}

func (p *PrometheusCollector) PeersRemoved(n int) {
	p.peersActive.Sub(float64(n))
}

func (p *PrometheusCollector) CommandHandled(command string, err error) {
	p.commands.WithLabelValues(command, result(err)).Inc()
}

func (p *PrometheusCollector) CallbackSent(kind domain.CallbackKind, err error) {
	p.callbacks.WithLabelValues(string(kind), result(err)).Inc()
}

// BreakerStateChanged tracks the circuit breaker of one callback host.
func (p *PrometheusCollector) BreakerStateChanged(host string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	p.callbacksState.WithLabelValues(host).Set(v)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
