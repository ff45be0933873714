// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storageOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainpass_storage_op_duration_seconds",
		Help:    "State store operation latencies",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"backend", "op"})

	storageOpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_storage_op_errors_total",
		Help: "State store operation failures, CAS losses excluded",
	}, []string{"backend", "op"})
)

// ObserveStorageOp records one store call.
func ObserveStorageOp(backend, op string, d time.Duration) {
	storageOpDuration.WithLabelValues(backend, op).Observe(d.Seconds())
}

// IncStorageOpError records a hard store failure. Precondition and
// already-exists results are contract outcomes, not errors.
func IncStorageOpError(backend, op string) {
	storageOpErrors.WithLabelValues(backend, op).Inc()
}
