// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainpass_ws_clients",
		Help: "Connected realtime websocket clients",
	})

	wsMessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_ws_messages_sent_total",
		Help: "Messages fanned out to websocket clients by target",
	}, []string{"target"})

	wsSlowDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainpass_ws_slow_disconnects_total",
		Help: "Clients disconnected because their send buffer stayed full",
	})
)

func IncWSClients() { wsClients.Inc() }
func DecWSClients() { wsClients.Dec() }

func IncWSMessageSent(target string) { wsMessagesSentTotal.WithLabelValues(target).Inc() }

func IncWSSlowDisconnect() { wsSlowDisconnectsTotal.Inc() }
