/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the calling Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	CallsStarted     *prometheus.CounterVec
	CallsEnded       *prometheus.CounterVec
	IncomingOutcomes *prometheus.CounterVec
	ActiveCalls      prometheus.Gauge
	PeerLinks        prometheus.Gauge
	PeerFailures     prometheus.Counter
	StaleEvents      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcall",
			Name:      "calls_started_total",
			Help:      "Calls started, by kind and direction.",
		}, []string{"kind", "direction"}),
		CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcall",
			Name:      "calls_ended_total",
			Help:      "Calls ended, by kind and final status.",
		}, []string{"kind", "status"}),
		IncomingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcall",
			Name:      "incoming_calls_total",
			Help:      "Incoming call resolutions, by outcome.",
		}, []string{"outcome"}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatcall",
			Name:      "active_calls",
			Help:      "Calls currently active on this client.",
		}),
		PeerLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatcall",
			Name:      "peer_links",
			Help:      "Open peer connections.",
		}),
		PeerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcall",
			Name:      "peer_failures_total",
			Help:      "Peer connections torn down after failing or disconnecting.",
		}),
		StaleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcall",
			Name:      "stale_events_total",
			Help:      "Signaling events dropped as stale or duplicate.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CallsStarted, m.CallsEnded, m.IncomingOutcomes,
			m.ActiveCalls, m.PeerLinks, m.PeerFailures, m.StaleEvents)
	}
	return m
}

func callKind(group bool) string {
	if group {
		return "group"
	}
	return "direct"
}

func (m *Metrics) callStarted(group bool, dir CallDirection) {
	if m == nil {
		return
	}
	m.CallsStarted.WithLabelValues(callKind(group), string(dir)).Inc()
	m.ActiveCalls.Inc()
}

func (m *Metrics) callEnded(group bool, status CallStatus) {
	if m == nil {
		return
	}
	m.CallsEnded.WithLabelValues(callKind(group), string(status)).Inc()
	m.ActiveCalls.Dec()
}

func (m *Metrics) incoming(outcome string) {
	if m == nil {
		return
	}
	m.IncomingOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) peerOpened() {
	if m == nil {
		return
	}
	m.PeerLinks.Inc()
}

func (m *Metrics) peerClosed(failed bool) {
	if m == nil {
		return
	}
	m.PeerLinks.Dec()
	if failed {
		m.PeerFailures.Inc()
	}
}

func (m *Metrics) staleEvent() {
	if m == nil {
		return
	}
	m.StaleEvents.Inc()
}
