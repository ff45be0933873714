// SPDX-License-Identifier: MIT

package log

// Standard field names used across all components so related log lines can be
// joined on stable keys.
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldEvent         = "event"

	FieldSessionID = "session_id"
	FieldClassID   = "class_id"
	FieldTeacherID = "teacher_id"
	FieldStudentID = "student_id"
	FieldTokenID   = "token_id"
	FieldTokenType = "token_type"
	FieldChainID   = "chain_id"
	FieldFlow      = "flow"
	FieldResult    = "result"
	FieldErrorCode = "error_code"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldBackend   = "backend"
	FieldTable     = "table"
	FieldDuration  = "duration_ms"
)
