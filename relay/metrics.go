////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "marketchat_relay"

// metrics are kept in a registry owned by the Relay so several relays can
// live in one process.
type metrics struct {
	registry *prometheus.Registry

	messages *prometheus.CounterVec
	reads    prometheus.Counter
	pushes   *prometheus.CounterVec
	dropped  prometheus.Counter
	sockets  prometheus.Gauge
	rooms    prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Messages accepted, by type.",
		}, []string{"type"}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reads_total",
			Help:      "Messages marked read.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pushes_total",
			Help:      "Frames pushed to sockets, by event.",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "slow_sockets_dropped_total",
			Help:      "Sockets closed because their send buffer was full.",
		}),
		sockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sockets",
			Help:      "Open sockets.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
	}
	m.registry.MustRegister(m.messages, m.reads, m.pushes, m.dropped,
		m.sockets, m.rooms)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
