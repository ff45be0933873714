// SPDX-License-Identifier: MIT

package domain

import (
	"errors"
	"fmt"
)

// Category groups error codes for logging and alerting. Operational
// categories are expected in normal traffic; INTERNAL is not.
type Category string

const (
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryValidation     Category = "VALIDATION"
	CategoryAntiCheat      Category = "ANTI_CHEAT"
	CategoryResource       Category = "RESOURCE"
	CategoryBusinessLogic  Category = "BUSINESS_LOGIC"
	CategoryInternal       Category = "INTERNAL"
)

// Code is the stable machine-readable error code carried on every failure
// that crosses a component boundary.
type Code string

const (
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeExpiredToken         Code = "EXPIRED_TOKEN"
	CodeTokenAlreadyUsed     Code = "TOKEN_ALREADY_USED"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeGeofenceViolation    Code = "GEOFENCE_VIOLATION"
	CodeWifiViolation        Code = "WIFI_VIOLATION"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeStorageError         Code = "STORAGE_ERROR"
	CodeIneligibleStudent    Code = "INELIGIBLE_STUDENT"
	CodeInsufficientStudents Code = "INSUFFICIENT_STUDENTS"
	CodeSessionEnded         Code = "SESSION_ENDED"
	CodeInternalError        Code = "INTERNAL_ERROR"
)

var categories = map[Code]Category{
	CodeUnauthorized:         CategoryAuthentication,
	CodeForbidden:            CategoryAuthentication,
	CodeInvalidRequest:       CategoryValidation,
	CodeExpiredToken:         CategoryBusinessLogic,
	CodeTokenAlreadyUsed:     CategoryBusinessLogic,
	CodeRateLimited:          CategoryAntiCheat,
	CodeGeofenceViolation:    CategoryAntiCheat,
	CodeWifiViolation:        CategoryAntiCheat,
	CodeNotFound:             CategoryResource,
	CodeConflict:             CategoryResource,
	CodeStorageError:         CategoryInternal,
	CodeIneligibleStudent:    CategoryBusinessLogic,
	CodeInsufficientStudents: CategoryBusinessLogic,
	CodeSessionEnded:         CategoryBusinessLogic,
	CodeInternalError:        CategoryInternal,
}

// Category returns the category a code belongs to.
func (c Code) Category() Category {
	if cat, ok := categories[c]; ok {
		return cat
	}
	return CategoryInternal
}

// Error is the typed failure every component returns across its boundary.
// It wraps an optional cause for log context; the cause never reaches the
// client envelope.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Category reports the error's category.
func (e *Error) Category() Category { return e.Code.Category() }

// Operational reports whether the error is expected in normal traffic.
// Operational failures are logged at warn level, the rest at error level.
func (e *Error) Operational() bool { return e.Category() != CategoryInternal }

// E builds a typed error.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Ef builds a typed error with a formatted message.
func Ef(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a typed error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the code from err, or INTERNAL_ERROR when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// ScanResultFor buckets an error code into the scan-log result column.
func ScanResultFor(err error) ScanResult {
	if err == nil {
		return ScanSuccess
	}
	switch CodeOf(err) {
	case CodeRateLimited:
		return ScanRateLimited
	case CodeGeofenceViolation, CodeWifiViolation:
		return ScanLocationViolation
	case CodeExpiredToken, CodeTokenAlreadyUsed, CodeInvalidRequest:
		return ScanTokenInvalid
	case CodeUnauthorized:
		return ScanUnauthenticated
	case CodeForbidden:
		return ScanForbidden
	case CodeSessionEnded:
		return ScanSessionEnded
	case CodeNotFound:
		return ScanNotFound
	default:
		return ScanError
	}
}
