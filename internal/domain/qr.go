// SPDX-License-Identifier: MIT

package domain

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)

// SessionQR is the static join payload printed on the classroom poster.
// It is the base64 of a small JSON document, not a signed credential; the
// join flow still authenticates the scanner.
type SessionQR struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ClassID   string `json:"classId"`
}

const sessionQRType = "SESSION"

// EncodeSessionQR builds the poster payload for a session.
func EncodeSessionQR(sessionID, classID string) string {
	b, _ := json.Marshal(SessionQR{Type: sessionQRType, SessionID: sessionID, ClassID: classID})
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeSessionQR parses a poster payload. Malformed input is an
// INVALID_REQUEST, not an internal failure.
func DecodeSessionQR(payload string) (*SessionQR, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, E(CodeInvalidRequest, "session QR payload is not valid base64")
	}
	var qr SessionQR
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, E(CodeInvalidRequest, "session QR payload is not valid JSON")
	}
	if qr.Type != sessionQRType || qr.SessionID == "" {
		return nil, E(CodeInvalidRequest, "session QR payload has wrong type or missing session id")
	}
	return &qr, nil
}

// ScanURL builds the link encoded into baton and rotating-token QR codes.
// The scanning client opens it and posts the token back through the
// matching scan flow.
func ScanURL(baseURL, sessionID string, typ TokenType, tokenID string) string {
	v := url.Values{}
	v.Set("sessionId", sessionID)
	v.Set("type", string(typ))
	v.Set("token", tokenID)
	return strings.TrimRight(baseURL, "/") + "/scan?" + v.Encode()
}
