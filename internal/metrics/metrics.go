// Package metrics exposes Prometheus collectors for the live client and the
// relay. A nil *Live or *Relay records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cortado"

type Live struct {
	Frames        *prometheus.CounterVec
	Reconnects    prometheus.Counter
	DroppedSends  *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
	MalformedRows prometheus.Counter
}

func NewLive(reg prometheus.Registerer) *Live {
	m := &Live{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "frames_received_total",
			Help:      "Inbound socket frames by classification.",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "reconnects_total",
			Help:      "Socket reconnection attempts.",
		}),
		DroppedSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "dropped_sends_total",
			Help:      "Outbound frames dropped because the socket was not open.",
		}, []string{"frame"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "toolcall",
			Name:      "calls_total",
			Help:      "ask_question calls by outcome.",
		}, []string{"outcome"}),
		MalformedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "toolcall",
			Name:      "malformed_lines_total",
			Help:      "Agent stream lines that were not valid JSON.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Frames, m.Reconnects, m.DroppedSends, m.ToolCalls, m.MalformedRows)
	}
	return m
}

func (m *Live) Frame(kind string) {
	if m != nil {
		m.Frames.WithLabelValues(kind).Inc()
	}
}

func (m *Live) Reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Live) DroppedSend(frame string) {
	if m != nil {
		m.DroppedSends.WithLabelValues(frame).Inc()
	}
}

func (m *Live) ToolCall(outcome string) {
	if m != nil {
		m.ToolCalls.WithLabelValues(outcome).Inc()
	}
}

func (m *Live) MalformedLine() {
	if m != nil {
		m.MalformedRows.Inc()
	}
}

type Relay struct {
	Requests *prometheus.CounterVec
	Bytes    prometheus.Counter
}

func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay requests by route and status code.",
		}, []string{"route", "code"}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "streamed_bytes_total",
			Help:      "Bytes relayed from the analytics agent.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Bytes)
	}
	return m
}

func (m *Relay) Request(route, code string) {
	if m != nil {
		m.Requests.WithLabelValues(route, code).Inc()
	}
}

func (m *Relay) Streamed(n int) {
	if m != nil {
		m.Bytes.Add(float64(n))
	}
}
