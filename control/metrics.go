// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for accept and session activity.
// A nil *Metrics is valid and records nothing.

package control

import (
	"github.com/momentics/udsipc/api"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "udsipc"

// Metrics groups the collectors updated by the workers.
type Metrics struct {
	Accepted     prometheus.Counter
	AcceptErrors prometheus.Counter
	Active       prometheus.Gauge
	Messages     prometheus.Counter
	BytesIn      prometheus.Counter
	BytesOut     prometheus.Counter
	SessionExits *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "accepted_total",
			Help:      "Connections accepted by the server worker",
		}),
		AcceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "accept_errors_total",
			Help:      "Failed waitForConnection calls other than cancellation",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Session workers currently running",
		}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Messages received and handed to a responder",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "received_bytes_total",
			Help:      "Bytes received across all sessions",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "sent_bytes_total",
			Help:      "Bytes sent by responders across all sessions",
		}),
		SessionExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "exits_total",
			Help:      "Session worker loop exits by reason",
		}, []string{"reason"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.Accepted, m.AcceptErrors, m.Active, m.Messages, m.BytesIn, m.BytesOut, m.SessionExits,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ConnectionAccepted records one accepted connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.Accepted.Inc()
}

// AcceptFailed records one accept failure.
func (m *Metrics) AcceptFailed() {
	if m == nil {
		return
	}
	m.AcceptErrors.Inc()
}

// SessionStarted increments the active gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.Active.Inc()
}

// SessionEnded decrements the active gauge and counts the exit reason.
func (m *Metrics) SessionEnded(err error) {
	if m == nil {
		return
	}
	m.Active.Dec()
	m.SessionExits.WithLabelValues(api.Code(err).String()).Inc()
}

// MessageHandled counts one message of n bytes.
func (m *Metrics) MessageHandled(n int) {
	if m == nil {
		return
	}
	m.Messages.Inc()
	m.BytesIn.Add(float64(n))
}

// BytesSent counts n reply bytes.
func (m *Metrics) BytesSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesOut.Add(float64(n))
}
