// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus collectors for the protocol engine.
// Collectors are package-level and registered via promauto; components call
// the exported helpers instead of touching collectors directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_scans_total",
		Help: "Scan pipeline outcomes by flow and result",
	}, []string{"flow", "result"}) // result=SUCCESS|RATE_LIMITED|LOCATION_VIOLATION|TOKEN_INVALID|...

	tokensMintedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_tokens_minted_total",
		Help: "Tokens created by type",
	}, []string{"type"}) // type=CHAIN|EXIT_CHAIN|LATE_ENTRY|EARLY_LEAVE

	tokenConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_token_consume_total",
		Help: "Token consume attempts by outcome",
	}, []string{"outcome"}) // outcome=success|already_used|expired|revoked|not_found|error

	chainsSeededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_chains_seeded_total",
		Help: "Chains created by phase, seeding and reseeding included",
	}, []string{"phase"})

	chainTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_chain_transfers_total",
		Help: "Successful baton transfers by phase",
	}, []string{"phase"})

	chainsStalledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_chains_stalled_total",
		Help: "Chains transitioned to STALLED by phase",
	}, []string{"phase"})

	rateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_ratelimit_rejections_total",
		Help: "Scans rejected by the per-key rate limiter",
	}, []string{"limit"}) // limit=device|ip

	locationViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_location_violations_total",
		Help: "Scans rejected by location gating",
	}, []string{"kind"}) // kind=geofence|wifi

	attendanceMarksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_attendance_marks_total",
		Help: "Attendance record mutations by kind",
	}, []string{"kind"}) // kind=entry|exit|early_leave|join

	finalizedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_finalized_records_total",
		Help: "Records finalized at session end by final status",
	}, []string{"status"})

	realtimeMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_realtime_messages_total",
		Help: "Realtime messages emitted by target",
	}, []string{"target"})

	scanlogAppendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainpass_scanlog_append_failures_total",
		Help: "Scan-log rows that could not be appended",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainpass_sessions_active",
		Help: "Sessions currently ACTIVE on this instance's watch",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_sessions_total",
		Help: "Session lifecycle events",
	}, []string{"event"}) // event=created|ended|deleted

	rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpass_token_rotations_total",
		Help: "Rotating token replacements by type",
	}, []string{"type"}) // type=LATE_ENTRY|EARLY_LEAVE
)

func IncScan(flow, result string) { scansTotal.WithLabelValues(flow, result).Inc() }

func IncTokenMinted(tokenType string) { tokensMintedTotal.WithLabelValues(tokenType).Inc() }

func IncTokenConsume(outcome string) { tokenConsumeTotal.WithLabelValues(outcome).Inc() }

func AddChainsSeeded(phase string, n int) {
	chainsSeededTotal.WithLabelValues(phase).Add(float64(n))
}

func IncChainTransfer(phase string) { chainTransfersTotal.WithLabelValues(phase).Inc() }

func AddChainsStalled(phase string, n int) {
	chainsStalledTotal.WithLabelValues(phase).Add(float64(n))
}

func IncRateLimitRejection(limit string) {
	rateLimitRejectionsTotal.WithLabelValues(limit).Inc()
}

func IncLocationViolation(kind string) {
	locationViolationsTotal.WithLabelValues(kind).Inc()
}

func IncAttendanceMark(kind string) { attendanceMarksTotal.WithLabelValues(kind).Inc() }

func IncFinalizedRecord(status string) {
	finalizedRecordsTotal.WithLabelValues(status).Inc()
}

func IncRealtimeMessage(target string) {
	realtimeMessagesTotal.WithLabelValues(target).Inc()
}

func IncScanLogAppendFailure() { scanlogAppendFailuresTotal.Inc() }

func IncSessionsActive()        { sessionsActive.Inc() }
func DecSessionsActive()        { sessionsActive.Dec() }
func IncSessionEvent(ev string) { sessionsTotal.WithLabelValues(ev).Inc() }

func IncTokenRotation(tokenType string) {
	rotationsTotal.WithLabelValues(tokenType).Inc()
}
