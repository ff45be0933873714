// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/chainpass/chainpass/internal/api/middleware"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
)

// statusFor maps stable protocol error codes to HTTP status codes. Every
// handler funnels errors through this table so a code always surfaces with
// the same status, no matter which endpoint produced it.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden, domain.CodeGeofenceViolation, domain.CodeWifiViolation:
		return http.StatusForbidden
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeExpiredToken:
		return http.StatusGone
	case domain.CodeTokenAlreadyUsed, domain.CodeConflict, domain.CodeSessionEnded:
		return http.StatusConflict
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeIneligibleStudent, domain.CodeInsufficientStudents:
		return http.StatusUnprocessableEntity
	case domain.CodeStorageError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeProblem writes an RFC 7807 problem details response for err.
//
// Semantics:
//   - type: canonical machine identifier (e.g. "attendance/not_found")
//   - title: human-readable status label
//   - code: the stable protocol error code (e.g. "NOT_FOUND")
//   - detail: human-readable explanation of the specific error
//
// Internal errors keep their detail out of the response body; the cause is
// logged server-side with the request ID for correlation.
func writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	writeProblemExtra(w, r, err, nil)
}

// writeProblemExtra is writeProblem with extension members, used by the scan
// endpoints to carry the scan-log result bucket on rejections.
func writeProblemExtra(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	code := domain.CodeOf(err)
	status := statusFor(code)

	detail := ""
	var de *domain.Error
	if errors.As(err, &de) && de.Operational() {
		detail = de.Message
	} else {
		detail = "An unexpected error occurred. Please try again later."
		l := log.WithComponentFromContext(r.Context(), "api")
		l.Error().
			Err(err).
			Str("path", r.URL.EscapedPath()).
			Msg("request failed with internal error")
	}

	writeProblemDetails(w, r, status, code, detail, extra)
}

// writeProblemDetails writes an RFC 7807 response from explicit parts.
func writeProblemDetails(w http.ResponseWriter, r *http.Request, status int, code domain.Code, detail string, extra map[string]any) {
	// Request ID from context or response header (canonical)
	reqID := log.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(middleware.HeaderRequestID)
	}

	res := map[string]any{
		"type":      "attendance/" + strings.ToLower(string(code)),
		"title":     http.StatusText(status),
		"status":    status,
		"code":      string(code),
		"requestId": reqID,
	}

	if detail != "" {
		res["detail"] = detail
	}
	if instance := r.URL.EscapedPath(); instance != "" {
		res["instance"] = instance
	}

	// Add extensions at top level, protecting reserved keys.
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code", "requestId":
			l := log.L()
			l.Warn().Str("key", k).Msg("ignoring reserved key in problem extras")
			continue
		}
		res[k] = v
	}

	if reqID != "" {
		w.Header().Set(middleware.HeaderRequestID, reqID)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(res); err != nil {
		l := log.L()
		l.Error().
			Err(err).
			Str("code", string(code)).
			Int("status", status).
			Msg("failed to encode problem response")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a request body into v, limited to 1 MiB. Unknown fields
// are rejected so that a typo in a client payload fails loudly instead of
// silently dropping the field.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Wrap(domain.CodeInvalidRequest, "invalid request body", err)
	}
	return nil
}
