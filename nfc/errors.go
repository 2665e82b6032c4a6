package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies why a reader session ended. The numbering follows the
// reader error codes mobile platforms report, so clients can share handling.
type ErrorCode int

const (
	// Reader errors (1-99)
	ErrCodeUnsupportedFeature ErrorCode = 1
	ErrCodeSecurityViolation  ErrorCode = 2
	ErrCodeInvalidParameter   ErrorCode = 3

	// Tag transceive errors (100-199)
	ErrCodeTagConnectionLost ErrorCode = 100
	ErrCodeRetryExceeded     ErrorCode = 101
	ErrCodeTagResponseError  ErrorCode = 102

	// Session invalidation errors (200-299)
	ErrCodeUserCanceled                  ErrorCode = 200
	ErrCodeSessionTimeout                ErrorCode = 201
	ErrCodeSessionTerminatedUnexpectedly ErrorCode = 202
	ErrCodeSystemBusy                    ErrorCode = 203
	ErrCodeFirstTagRead                  ErrorCode = 204

	// NDEF errors (400-499)
	ErrCodeNDEFInvalid ErrorCode = 403
)

var errorCodeText = map[ErrorCode]string{
	ErrCodeUnsupportedFeature:            "reader not available",
	ErrCodeSecurityViolation:             "security violation",
	ErrCodeInvalidParameter:              "invalid parameter",
	ErrCodeTagConnectionLost:             "tag connection lost",
	ErrCodeRetryExceeded:                 "retry limit exceeded",
	ErrCodeTagResponseError:              "tag response error",
	ErrCodeUserCanceled:                  "session invalidated by user",
	ErrCodeSessionTimeout:                "session timeout",
	ErrCodeSessionTerminatedUnexpectedly: "session terminated unexpectedly",
	ErrCodeSystemBusy:                    "system resource unavailable",
	ErrCodeFirstTagRead:                  "session invalidated after first tag read",
	ErrCodeNDEFInvalid:                   "invalid NDEF message",
}

// String returns the human readable description of the code.
func (c ErrorCode) String() string {
	if s, ok := errorCodeText[c]; ok {
		return s
	}
	return fmt.Sprintf("error %d", int(c))
}

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Open", "Poll")
	Message string
	Cause   error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewReaderUnavailableError creates an error for a reader that cannot be opened.
func NewReaderUnavailableError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeUnsupportedFeature,
		Op:      op,
		Message: ErrCodeUnsupportedFeature.String(),
		Cause:   cause,
	}
}

// NewTagConnectionLostError creates an error for a tag that left the field
// mid-read.
func NewTagConnectionLostError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTagConnectionLost,
		Op:      op,
		Message: ErrCodeTagConnectionLost.String(),
		Cause:   cause,
	}
}

// NewTerminatedError creates an error for a reader that failed while a
// session was running.
func NewTerminatedError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeSessionTerminatedUnexpectedly,
		Op:      op,
		Message: ErrCodeSessionTerminatedUnexpectedly.String(),
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// IsTagConnectionLost reports whether err means the tag left the field.
// Such errors are recoverable: the reader keeps polling.
func IsTagConnectionLost(err error) bool {
	return GetErrorCode(err) == ErrCodeTagConnectionLost
}

// SessionErrorFrom converts err into the terminal outcome of a session.
// Errors that are not NFCErrors are reported as unexpected terminations.
func SessionErrorFrom(err error) SessionError {
	code := GetErrorCode(err)
	if code == 0 {
		code = ErrCodeSessionTerminatedUnexpectedly
	}
	return SessionError{
		Code:    code,
		Message: err.Error(),
	}
}
