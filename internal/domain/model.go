// SPDX-License-Identifier: MIT

// Package domain defines the chainpass data model: sessions, tokens, relay
// chains, attendance records and scan logs, plus the typed error envelope
// shared by every service. All timestamps are integer seconds since epoch;
// all identifiers are opaque strings.
package domain

// SessionStatus is the session lifecycle. ENDED is terminal.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
)

// TokenType distinguishes the five token flavours. CHAIN and EXIT_CHAIN are
// the short-lived single-use batons; LATE_ENTRY and EARLY_LEAVE rotate on the
// teacher's display; SESSION is the static join payload.
type TokenType string

const (
	TokenChain      TokenType = "CHAIN"
	TokenExitChain  TokenType = "EXIT_CHAIN"
	TokenLateEntry  TokenType = "LATE_ENTRY"
	TokenEarlyLeave TokenType = "EARLY_LEAVE"
	TokenSession    TokenType = "SESSION"
)

// IsRotating reports whether tokens of this type are minted on a fixed period
// and broadcast via the teacher's display.
func (t TokenType) IsRotating() bool {
	return t == TokenLateEntry || t == TokenEarlyLeave
}

// TokenStatus is the token lifecycle. A token leaves ACTIVE exactly once;
// USED and REVOKED may only transition to REVOKED.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "ACTIVE"
	TokenStatusUsed    TokenStatus = "USED"
	TokenStatusRevoked TokenStatus = "REVOKED"
)

// ChainPhase separates the entry relay (start of class) from the exit relay
// (end of class).
type ChainPhase string

const (
	PhaseEntry ChainPhase = "ENTRY"
	PhaseExit  ChainPhase = "EXIT"
)

// ChainState is the relay chain lifecycle.
type ChainState string

const (
	ChainStateActive    ChainState = "ACTIVE"
	ChainStateStalled   ChainState = "STALLED"
	ChainStateCompleted ChainState = "COMPLETED"
)

// EntryStatus records how a student entered the session.
type EntryStatus string

const (
	EntryPresent EntryStatus = "PRESENT_ENTRY"
	EntryLate    EntryStatus = "LATE_ENTRY"
)

// FinalStatus is the terminal per-student outcome computed at session end.
type FinalStatus string

const (
	FinalPresent    FinalStatus = "PRESENT"
	FinalLate       FinalStatus = "LATE"
	FinalLeftEarly  FinalStatus = "LEFT_EARLY"
	FinalEarlyLeave FinalStatus = "EARLY_LEAVE"
	FinalAbsent     FinalStatus = "ABSENT"
)

// ScanFlow names the scanning flow a request belongs to.
type ScanFlow string

const (
	FlowJoin       ScanFlow = "JOIN"
	FlowEntryChain ScanFlow = "ENTRY_CHAIN"
	FlowExitChain  ScanFlow = "EXIT_CHAIN"
	FlowLateEntry  ScanFlow = "LATE_ENTRY"
	FlowEarlyLeave ScanFlow = "EARLY_LEAVE"
)

// ScanResult buckets the outcome recorded in the scan log.
type ScanResult string

const (
	ScanSuccess           ScanResult = "SUCCESS"
	ScanRateLimited       ScanResult = "RATE_LIMITED"
	ScanLocationViolation ScanResult = "LOCATION_VIOLATION"
	ScanTokenInvalid      ScanResult = "TOKEN_INVALID"
	ScanUnauthenticated   ScanResult = "UNAUTHENTICATED"
	ScanForbidden         ScanResult = "FORBIDDEN"
	ScanSessionEnded      ScanResult = "SESSION_ENDED"
	ScanNotFound          ScanResult = "NOT_FOUND"
	ScanError             ScanResult = "ERROR"
)

// Role is derived from the principal's email domain.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
)

// Geofence is a circle on the earth's surface; scans carrying GPS must fall
// within RadiusMeters of the centre (haversine distance).
type Geofence struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	RadiusMeters float64 `json:"radiusMeters"`
}

// Constraints are the optional per-session location gates. Both gates combine
// conjunctively; an absent Constraints means every scan location is accepted.
type Constraints struct {
	Geofence      *Geofence `json:"geofence,omitempty"`
	WifiAllowlist []string  `json:"wifiAllowlist,omitempty"`
}

// GPS is a raw client-reported reading.
type GPS struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Session is a single class meeting. Created by the teacher; mutated only by
// teacher-initiated operations and token-rotation bookkeeping.
type Session struct {
	SessionID         string        `json:"sessionId"`
	ClassID           string        `json:"classId"`
	TeacherID         string        `json:"teacherId"`
	StartAt           int64         `json:"startAt"`
	EndAt             int64         `json:"endAt"`
	LateCutoffMinutes int           `json:"lateCutoffMinutes"`
	ExitWindowMinutes int           `json:"exitWindowMinutes"`
	Status            SessionStatus `json:"status"`
	OwnerTransfer     bool          `json:"ownerTransfer"`
	Constraints       *Constraints  `json:"constraints,omitempty"`

	// Rotating-token bookkeeping. At most one live token per kind.
	LateEntryActive     bool   `json:"lateEntryActive"`
	CurrentLateTokenID  string `json:"currentLateTokenId,omitempty"`
	EarlyLeaveActive    bool   `json:"earlyLeaveActive"`
	CurrentEarlyTokenID string `json:"currentEarlyTokenId,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	EndedAt   int64 `json:"endedAt,omitempty"`
}

// Token is a one-time (or rotating) proof carrier. The storage version tag
// travels separately; it is not part of the record.
type Token struct {
	TokenID   string      `json:"tokenId"`
	SessionID string      `json:"sessionId"`
	Type      TokenType   `json:"type"`
	ChainID   string      `json:"chainId,omitempty"`
	IssuedTo  string      `json:"issuedTo,omitempty"`
	Seq       int64       `json:"seq"`
	Exp       int64       `json:"exp"`
	Status    TokenStatus `json:"status"`
	SingleUse bool        `json:"singleUse"`
	CreatedAt int64       `json:"createdAt"`
	UsedAt    int64       `json:"usedAt,omitempty"`
}

// ExpiredAt reports whether the token is expired at the given unix second.
// The boundary is inclusive: a token whose Exp equals now is already invalid.
func (t *Token) ExpiredAt(now int64) bool {
	return t.Exp <= now
}

// Chain is one relay of baton passes within a session. LastSeq is
// monotonically non-decreasing; LastAt reflects the last successful transfer.
type Chain struct {
	SessionID  string     `json:"sessionId"`
	ChainID    string     `json:"chainId"`
	Phase      ChainPhase `json:"phase"`
	Index      int        `json:"index"`
	State      ChainState `json:"state"`
	LastHolder string     `json:"lastHolder"`
	LastSeq    int64      `json:"lastSeq"`
	LastAt     int64      `json:"lastAt"`
	CreatedAt  int64      `json:"createdAt"`
}

// AttendanceRecord is the per-student state for a session. Entry, exit and
// early-leave are field-disjoint merges so concurrent updates commute.
// FinalStatus stays empty until the session is finalized.
type AttendanceRecord struct {
	SessionID      string      `json:"sessionId"`
	StudentID      string      `json:"studentId"`
	EntryStatus    EntryStatus `json:"entryStatus,omitempty"`
	EntryAt        int64       `json:"entryAt,omitempty"`
	ExitVerified   bool        `json:"exitVerified"`
	ExitVerifiedAt int64       `json:"exitVerifiedAt,omitempty"`
	EarlyLeaveAt   int64       `json:"earlyLeaveAt,omitempty"`
	FinalStatus    FinalStatus `json:"finalStatus,omitempty"`
}

// ScanLog is one append-only audit row. Rows are immutable after write; the
// row key is time-ordered so a partition scan yields chronological order.
type ScanLog struct {
	SessionID         string     `json:"sessionId"`
	RowKey            string     `json:"rowKey"`
	Flow              ScanFlow   `json:"flow"`
	TokenID           string     `json:"tokenId,omitempty"`
	HolderID          string     `json:"holderId,omitempty"`
	ScannerID         string     `json:"scannerId,omitempty"`
	DeviceFingerprint string     `json:"deviceFingerprint,omitempty"`
	IP                string     `json:"ip,omitempty"`
	BSSID             string     `json:"bssid,omitempty"`
	GPS               *GPS       `json:"gps,omitempty"`
	UserAgent         string     `json:"userAgent,omitempty"`
	Result            ScanResult `json:"result"`
	Error             string     `json:"error,omitempty"`
	ScannedAt         int64      `json:"scannedAt"`
}

// FinalStatusFor applies the finalization decision table to one record.
// The table is commutative over the three inputs, so arrival order of the
// underlying marks never changes the outcome.
func FinalStatusFor(rec *AttendanceRecord) FinalStatus {
	switch {
	case rec.EarlyLeaveAt != 0:
		return FinalEarlyLeave
	case rec.EntryStatus == EntryPresent && rec.ExitVerified:
		return FinalPresent
	case rec.EntryStatus == EntryPresent:
		return FinalLeftEarly
	case rec.EntryStatus == EntryLate && rec.ExitVerified:
		return FinalLate
	case rec.EntryStatus == EntryLate:
		return FinalLeftEarly
	default:
		return FinalAbsent
	}
}
