// SPDX-License-Identifier: MIT

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalStatusFor_Table(t *testing.T) {
	entries := []EntryStatus{"", EntryPresent, EntryLate}
	exits := []bool{false, true}
	leaves := []int64{0, 1700000000}

	expect := func(entry EntryStatus, exit bool, leave int64) FinalStatus {
		switch {
		case leave != 0:
			return FinalEarlyLeave
		case entry == EntryPresent && exit:
			return FinalPresent
		case entry == EntryPresent:
			return FinalLeftEarly
		case entry == EntryLate && exit:
			return FinalLate
		case entry == EntryLate:
			return FinalLeftEarly
		default:
			return FinalAbsent
		}
	}

	for _, entry := range entries {
		for _, exit := range exits {
			for _, leave := range leaves {
				rec := &AttendanceRecord{
					SessionID:    "s1",
					StudentID:    "stu",
					EntryStatus:  entry,
					ExitVerified: exit,
					EarlyLeaveAt: leave,
				}
				got := FinalStatusFor(rec)
				assert.Equal(t, expect(entry, exit, leave), got,
					"entry=%q exit=%v leave=%d", entry, exit, leave)
			}
		}
	}
}

func TestFinalStatusFor_EarlyLeaveWinsOverEverything(t *testing.T) {
	rec := &AttendanceRecord{
		EntryStatus:  EntryPresent,
		ExitVerified: true,
		EarlyLeaveAt: 1700000100,
	}
	assert.Equal(t, FinalEarlyLeave, FinalStatusFor(rec))
}

func TestTokenExpiredAt_Boundary(t *testing.T) {
	tok := &Token{Exp: 1000}

	assert.False(t, tok.ExpiredAt(999), "one second before exp is still valid")
	assert.True(t, tok.ExpiredAt(1000), "exp second itself is already invalid")
	assert.True(t, tok.ExpiredAt(1001))
}

func TestTokenTypeIsRotating(t *testing.T) {
	assert.True(t, TokenLateEntry.IsRotating())
	assert.True(t, TokenEarlyLeave.IsRotating())
	assert.False(t, TokenChain.IsRotating())
	assert.False(t, TokenExitChain.IsRotating())
	assert.False(t, TokenSession.IsRotating())
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		code Code
		cat  Category
		op   bool
	}{
		{CodeUnauthorized, CategoryAuthentication, true},
		{CodeForbidden, CategoryAuthentication, true},
		{CodeInvalidRequest, CategoryValidation, true},
		{CodeRateLimited, CategoryAntiCheat, true},
		{CodeGeofenceViolation, CategoryAntiCheat, true},
		{CodeWifiViolation, CategoryAntiCheat, true},
		{CodeNotFound, CategoryResource, true},
		{CodeConflict, CategoryResource, true},
		{CodeExpiredToken, CategoryBusinessLogic, true},
		{CodeTokenAlreadyUsed, CategoryBusinessLogic, true},
		{CodeSessionEnded, CategoryBusinessLogic, true},
		{CodeIneligibleStudent, CategoryBusinessLogic, true},
		{CodeInsufficientStudents, CategoryBusinessLogic, true},
		{CodeStorageError, CategoryInternal, false},
		{CodeInternalError, CategoryInternal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := E(tt.code, "boom")
			assert.Equal(t, tt.cat, err.Category())
			assert.Equal(t, tt.op, err.Operational())
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeExpiredToken, CodeOf(E(CodeExpiredToken, "gone")))
	assert.Equal(t, CodeInternalError, CodeOf(assert.AnError))
	assert.True(t, IsCode(Ef(CodeNotFound, "token %s", "t1"), CodeNotFound))
}

func TestErrorWrapPreservesCause(t *testing.T) {
	cause := assert.AnError
	err := Wrap(CodeStorageError, "put failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "STORAGE_ERROR")
	assert.Contains(t, err.Error(), "put failed")
}

func TestScanResultFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ScanResult
	}{
		{"nil", nil, ScanSuccess},
		{"rate limited", E(CodeRateLimited, ""), ScanRateLimited},
		{"geofence", E(CodeGeofenceViolation, ""), ScanLocationViolation},
		{"wifi", E(CodeWifiViolation, ""), ScanLocationViolation},
		{"expired", E(CodeExpiredToken, ""), ScanTokenInvalid},
		{"used", E(CodeTokenAlreadyUsed, ""), ScanTokenInvalid},
		{"unauthorized", E(CodeUnauthorized, ""), ScanUnauthenticated},
		{"forbidden", E(CodeForbidden, ""), ScanForbidden},
		{"ended", E(CodeSessionEnded, ""), ScanSessionEnded},
		{"not found", E(CodeNotFound, ""), ScanNotFound},
		{"storage", E(CodeStorageError, ""), ScanError},
		{"untyped", assert.AnError, ScanError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScanResultFor(tt.err))
		})
	}
}

func TestSessionQRRoundTrip(t *testing.T) {
	payload := EncodeSessionQR("sess-42", "CS101")

	qr, err := DecodeSessionQR(payload)
	require.NoError(t, err)
	assert.Equal(t, "SESSION", qr.Type)
	assert.Equal(t, "sess-42", qr.SessionID)
	assert.Equal(t, "CS101", qr.ClassID)
}

func TestDecodeSessionQRRejectsGarbage(t *testing.T) {
	_, err := DecodeSessionQR("%%%not-base64%%%")
	assert.True(t, IsCode(err, CodeInvalidRequest))

	// base64("not-json") decodes but is not a JSON document.
	_, err = DecodeSessionQR("bm90LWpzb24=")
	assert.True(t, IsCode(err, CodeInvalidRequest))

	// Valid JSON but wrong type marker.
	_, err = DecodeSessionQR(EncodeSessionQR("", "CS101"))
	assert.True(t, IsCode(err, CodeInvalidRequest))
}

func TestScanURL(t *testing.T) {
	u := ScanURL("https://attend.example.edu/", "sess-1", TokenChain, "tok-abc")

	assert.Equal(t, "https://attend.example.edu/scan?sessionId=sess-1&token=tok-abc&type=CHAIN", u)
}
