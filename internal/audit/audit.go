// SPDX-License-Identifier: MIT

// Package audit provides structured audit logging for security-sensitive
// operations. It follows the WHO/WHAT/WHEN pattern for compliance and
// forensics: every teacher-initiated control action and every rejected
// credential leaves a durable log line.
package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/chainpass/chainpass/internal/log"
	"github.com/rs/zerolog"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Configuration events
	EventConfigReload      EventType = "config.reload"
	EventConfigReloadError EventType = "config.reload.error"

	// Session lifecycle events
	EventSessionCreate EventType = "session.create"
	EventSessionEnd    EventType = "session.end"
	EventSessionDelete EventType = "session.delete"

	// Rotating-token control events
	EventRotationStart EventType = "rotation.start"
	EventRotationTick  EventType = "rotation.rotate"
	EventRotationStop  EventType = "rotation.stop"

	// Chain control events
	EventChainSeed   EventType = "chain.seed"
	EventChainReseed EventType = "chain.reseed"

	// Authentication events
	EventAuthSuccess EventType = "auth.success"
	EventAuthFailure EventType = "auth.failure"
	EventAuthMissing EventType = "auth.missing"

	// API access events
	EventAPIAccess    EventType = "api.access"
	EventAPIForbidden EventType = "api.forbidden"
	EventAPIRateLimit EventType = "api.ratelimit"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`             // WHO: user ID, IP, or "system"
	Action     string            `json:"action"`            // WHAT: human-readable action description
	Resource   string            `json:"resource"`          // Resource affected (e.g., session ID, endpoint)
	Result     string            `json:"result"`            // success, failure, denied
	RemoteAddr string            `json:"remote_addr"`       // Client IP address
	UserAgent  string            `json:"user_agent"`        // Client user agent
	RequestID  string            `json:"request_id"`        // Correlation ID
	Details    map[string]string `json:"details,omitempty"` // Additional context
}

// Logger provides audit logging functionality.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger with a dedicated "audit" component.
func NewLogger() *Logger {
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()

	return &Logger{
		logger: auditLogger,
	}
}

// Log writes an audit event to the audit log.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.RemoteAddr != "" {
		logEvent.Str("remote_addr", event.RemoteAddr)
	}
	if event.UserAgent != "" {
		logEvent.Str("user_agent", event.UserAgent)
	}
	if event.RequestID != "" {
		logEvent.Str("request_id", event.RequestID)
	}

	// Add details as flattened fields
	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// LogFromContext logs an audit event, filling the correlation ID from the
// request context when the caller did not set one.
func (l *Logger) LogFromContext(ctx context.Context, event Event) {
	if event.RequestID == "" {
		event.RequestID = log.RequestIDFromContext(ctx)
	}
	l.Log(event)
}

// ConfigReload logs a configuration reload event.
func (l *Logger) ConfigReload(actor, result string, details map[string]string) {
	l.Log(Event{
		Type:     EventConfigReload,
		Actor:    actor,
		Action:   "reloaded configuration",
		Resource: "config",
		Result:   result,
		Details:  details,
	})
}

// SessionCreated logs the creation of an attendance session.
func (l *Logger) SessionCreated(ctx context.Context, actor, sessionID, classID string) {
	l.LogFromContext(ctx, Event{
		Type:     EventSessionCreate,
		Actor:    actor,
		Action:   "created attendance session",
		Resource: sessionID,
		Result:   "success",
		Details: map[string]string{
			"class_id": classID,
		},
	})
}

// SessionEnded logs the finalization of an attendance session.
func (l *Logger) SessionEnded(ctx context.Context, actor, sessionID string, finalized int) {
	l.LogFromContext(ctx, Event{
		Type:     EventSessionEnd,
		Actor:    actor,
		Action:   "ended attendance session",
		Resource: sessionID,
		Result:   "success",
		Details: map[string]string{
			"finalized_records": strconv.Itoa(finalized),
		},
	})
}

// SessionDeleted logs the deletion of a session and its dependent rows.
func (l *Logger) SessionDeleted(ctx context.Context, actor, sessionID string) {
	l.LogFromContext(ctx, Event{
		Type:     EventSessionDelete,
		Actor:    actor,
		Action:   "deleted attendance session",
		Resource: sessionID,
		Result:   "success",
	})
}

// RotationControl logs a start, rotate or stop action on a rotating-token
// flow. Flow is the scan flow name, action one of "start", "rotate", "stop".
func (l *Logger) RotationControl(ctx context.Context, actor, sessionID, flow, action string) {
	typ := EventRotationTick
	switch action {
	case "start":
		typ = EventRotationStart
	case "stop":
		typ = EventRotationStop
	}
	l.LogFromContext(ctx, Event{
		Type:     typ,
		Actor:    actor,
		Action:   action + " rotating token flow",
		Resource: sessionID,
		Result:   "success",
		Details: map[string]string{
			"flow": flow,
		},
	})
}

// ChainsSeeded logs the seeding of relay chains for a phase.
func (l *Logger) ChainsSeeded(ctx context.Context, actor, sessionID, phase string, count int, reseed bool) {
	typ := EventChainSeed
	action := "seeded relay chains"
	if reseed {
		typ = EventChainReseed
		action = "reseeded stalled chains"
	}
	l.LogFromContext(ctx, Event{
		Type:     typ,
		Actor:    actor,
		Action:   action,
		Resource: sessionID,
		Result:   "success",
		Details: map[string]string{
			"phase":  phase,
			"chains": strconv.Itoa(count),
		},
	})
}

// AuthFailure logs a failed authentication attempt.
func (l *Logger) AuthFailure(remoteAddr, endpoint, reason string) {
	l.Log(Event{
		Type:       EventAuthFailure,
		Actor:      remoteAddr,
		Action:     "authentication failed",
		Resource:   endpoint,
		Result:     "failure",
		RemoteAddr: remoteAddr,
		Details: map[string]string{
			"reason": reason,
		},
	})
}

// AuthMissing logs a request without authentication.
func (l *Logger) AuthMissing(remoteAddr, endpoint string) {
	l.Log(Event{
		Type:       EventAuthMissing,
		Actor:      remoteAddr,
		Action:     "accessed endpoint without authentication",
		Resource:   endpoint,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// Forbidden logs a request by an authenticated principal lacking the role.
func (l *Logger) Forbidden(ctx context.Context, actor, endpoint, reason string) {
	l.LogFromContext(ctx, Event{
		Type:     EventAPIForbidden,
		Actor:    actor,
		Action:   "accessed endpoint without required role",
		Resource: endpoint,
		Result:   "denied",
		Details: map[string]string{
			"reason": reason,
		},
	})
}

// APIAccess logs API endpoint access.
func (l *Logger) APIAccess(remoteAddr, method, endpoint string, statusCode int) {
	result := "success"
	if statusCode >= 400 {
		result = "failure"
	}

	l.Log(Event{
		Type:       EventAPIAccess,
		Actor:      remoteAddr,
		Action:     method + " " + endpoint,
		Resource:   endpoint,
		Result:     result,
		RemoteAddr: remoteAddr,
		Details: map[string]string{
			"method":      method,
			"status_code": strconv.Itoa(statusCode),
		},
	})
}

// RateLimitExceeded logs rate limit violations.
func (l *Logger) RateLimitExceeded(remoteAddr, endpoint string) {
	l.Log(Event{
		Type:       EventAPIRateLimit,
		Actor:      remoteAddr,
		Action:     "rate limit exceeded",
		Resource:   endpoint,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}
