package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the bridge's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	framesIn     prometheus.Counter
	framesOut    prometheus.Counter
	bytesOut     prometheus.Counter
	decodeErrors prometheus.Counter
	dispatched   *prometheus.CounterVec
	connects     *prometheus.CounterVec
	state        prometheus.Gauge
}

// NewMetrics registers the collectors with reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "gobridge"
	}
	factory := promauto.With(reg)

	return &Metrics{
		framesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of well-formed frames received from the host",
		}),
		framesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames written to the host",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total number of bytes written to the host",
		}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of malformed frames skipped",
		}),
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Inbound events by registered type and outcome (ok, error, unhandled); unhandled types share the _unhandled label",
		}, []string{"type", "outcome"}),
		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by result",
		}, []string{"result"}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 disconnecting)",
		}),
	}
}

func (m *Metrics) frameReceived() {
	if m != nil {
		m.framesIn.Inc()
	}
}

func (m *Metrics) frameSent(size int) {
	if m != nil {
		m.framesOut.Inc()
		m.bytesOut.Add(float64(size))
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) dispatch(eventType, outcome string) {
	if m != nil {
		m.dispatched.WithLabelValues(eventType, outcome).Inc()
	}
}

func (m *Metrics) connectAttempt(result string) {
	if m != nil {
		m.connects.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
