// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the
// chainpass service.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Session attributes
	SessionIDKey     = "session.id"
	SessionClassKey  = "session.class_id"
	SessionStatusKey = "session.status"

	// Scan attributes
	ScanFlowKey    = "scan.flow"
	ScanResultKey  = "scan.result"
	ScanScannerKey = "scan.scanner_id"

	// Token attributes
	TokenTypeKey = "token.type"

	// Chain attributes
	ChainIDKey    = "chain.id"
	ChainPhaseKey = "chain.phase"
	ChainSeqKey   = "chain.seq"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes creates session-related span attributes.
func SessionAttributes(sessionID, classID, status string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if classID != "" {
		attrs = append(attrs, attribute.String(SessionClassKey, classID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(SessionStatusKey, status))
	}
	return attrs
}

// ScanAttributes creates scan-related span attributes.
func ScanAttributes(flow, result, scannerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ScanFlowKey, flow),
		attribute.String(ScanResultKey, result),
		attribute.String(ScanScannerKey, scannerID),
	}
}

// ChainAttributes creates chain-related span attributes.
func ChainAttributes(chainID, phase string, seq int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ChainIDKey, chainID),
		attribute.String(ChainPhaseKey, phase),
		attribute.Int(ChainSeqKey, seq),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
