package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the sync client collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reconnects      prometheus.Counter
	connected       prometheus.Gauge
	events          *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	sends           *prometheus.CounterVec
	profileFetches  *prometheus.CounterVec
	coalesced       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gigchat",
			Name:      "transport_reconnects_total",
			Help:      "Reconnect attempts made by the transport session.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gigchat",
			Name:      "transport_connected",
			Help:      "1 while the push connection is open.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigchat",
			Name:      "transport_events_total",
			Help:      "Decoded push events by kind.",
		}, []string{"kind"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigchat",
			Name:      "timeline_reconciliations_total",
			Help:      "Outcome of merging pushed messages into a timeline.",
		}, []string{"outcome"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigchat",
			Name:      "message_sends_total",
			Help:      "Message sends by delivery path and result.",
		}, []string{"path", "result"}),
		profileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigchat",
			Name:      "profile_fetches_total",
			Help:      "Profile lookups that reached the network, by result.",
		}, []string{"result"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigchat",
			Name:      "coalesced_requests_total",
			Help:      "Requests served by an already running identical request.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.reconnects, m.connected, m.events, m.reconciliations, m.sends, m.profileFetches, m.coalesced)
	}
	return m
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Send(path string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.sends.WithLabelValues(path, result).Inc()
}

func (m *Metrics) ProfileFetch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "fallback"
	}
	m.profileFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) Coalesced(kind string) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(kind).Inc()
}
