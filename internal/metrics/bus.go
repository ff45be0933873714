// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusDroppedTotal is exported so bus tests can introspect drop counts.
var BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainpass_bus_dropped_total",
	Help: "In-memory bus message drops by topic and reason",
}, []string{"topic", "reason"}) // reason=backpressure|context_done

// IncBusDrop records a dropped bus message.
func IncBusDrop(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(topic, reason).Inc()
}
