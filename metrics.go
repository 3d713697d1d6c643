package websocket

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsOptions configures NewMetrics.
type MetricsOptions struct {
	// Namespace defaults to "websocket".
	Namespace string
	Subsystem string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Metrics holds the Prometheus collectors updated by a Server.
// A nil *Metrics records nothing.
type Metrics struct {
	connsAccepted   prometheus.Counter
	connsActive     prometheus.Gauge
	acceptErrors    prometheus.Counter
	handshakeErrors prometheus.Counter
	handlerPanics   prometheus.Counter
	closes          *prometheus.CounterVec
	framesRead      *prometheus.CounterVec
	framesWritten   *prometheus.CounterVec
	bytesRead       prometheus.Counter
	bytesWritten    prometheus.Counter
}

// NewMetrics creates the server collectors and registers them.
func NewMetrics(opts *MetricsOptions) *Metrics {
	if opts == nil {
		opts = &MetricsOptions{}
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "websocket"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, labels)
	}

	return &Metrics{
		connsAccepted:   counter("connections_accepted_total", "Connections that completed the WebSocket handshake."),
		acceptErrors:    counter("accept_errors_total", "Errors returned by the listener's Accept."),
		handshakeErrors: counter("handshake_errors_total", "Connections dropped during the TLS or WebSocket handshake."),
		handlerPanics:   counter("handler_panics_total", "Panics recovered from handler callbacks."),
		bytesRead:       counter("read_bytes_total", "Bytes of frames read from clients."),
		bytesWritten:    counter("written_bytes_total", "Bytes of frames written to clients."),
		connsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   opts.Subsystem,
			Name:        "connections_active",
			Help:        "Connections currently in the open state.",
			ConstLabels: opts.ConstLabels,
		}),
		closes:        counterVec("closes_total", "Closed connections by reported status code.", "code"),
		framesRead:    counterVec("frames_read_total", "Frames read from clients by opcode.", "opcode"),
		framesWritten: counterVec("frames_written_total", "Frames written to clients by opcode.", "opcode"),
	}
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connsAccepted.Inc()
	m.connsActive.Inc()
}

func (m *Metrics) connClosed(code StatusCode) {
	if m == nil {
		return
	}
	m.connsActive.Dec()
	m.closes.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func (m *Metrics) acceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

func (m *Metrics) handshakeError() {
	if m == nil {
		return
	}
	m.handshakeErrors.Inc()
}

func (m *Metrics) handlerPanic() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}

func (m *Metrics) frameRead(op Opcode, n int) {
	if m == nil {
		return
	}
	m.framesRead.WithLabelValues(op.String()).Inc()
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) frameWritten(op Opcode, n int) {
	if m == nil {
		return
	}
	m.framesWritten.WithLabelValues(op.String()).Inc()
	m.bytesWritten.Add(float64(n))
}
