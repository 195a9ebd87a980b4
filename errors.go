package authx

import (
	"errors"
	"fmt"
)

// ErrorCode represents token engine error categories.
type ErrorCode string

const (
	ErrCodeInvalidArgument     ErrorCode = "invalid_argument"
	ErrCodeInvalidToken        ErrorCode = "invalid_token"
	ErrCodeExpired             ErrorCode = "token_expired"
	ErrCodeIssuedInFuture      ErrorCode = "token_issued_in_future"
	ErrCodeInvalidIssuer       ErrorCode = "invalid_issuer"
	ErrCodeInvalidAudience     ErrorCode = "invalid_audience"
	ErrCodeInvalidSubject      ErrorCode = "invalid_subject"
	ErrCodeUnknownKey          ErrorCode = "unknown_key"
	ErrCodeIDTokenRevoked      ErrorCode = "id_token_revoked"
	ErrCodeSessionTokenRevoked ErrorCode = "session_token_revoked"
	ErrCodeUserNotFound        ErrorCode = "user_not_found"
	ErrCodeTokenParse          ErrorCode = "token_parse_error"
	ErrCodeAuthService         ErrorCode = "auth_service_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeInternal            ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidArgument:     "Invalid argument",
	ErrCodeInvalidToken:        "Invalid token",
	ErrCodeExpired:             "Token expired",
	ErrCodeIssuedInFuture:      "Token issued in the future",
	ErrCodeInvalidIssuer:       "Invalid issuer",
	ErrCodeInvalidAudience:     "Invalid audience",
	ErrCodeInvalidSubject:      "Invalid subject",
	ErrCodeUnknownKey:          "Unknown signing key",
	ErrCodeIDTokenRevoked:      "ID token revoked",
	ErrCodeSessionTokenRevoked: "Session token revoked",
	ErrCodeUserNotFound:        "User not found",
	ErrCodeTokenParse:          "Token parse error",
	ErrCodeAuthService:         "Auth service error",
	ErrCodeUpstreamUnavailable: "Upstream unavailable",
	ErrCodeInternal:            "Internal error",
}

// Error wraps token engine errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the outermost error code carried by err, or ErrCodeInternal
// when err does not originate from this package.
func CodeOf(err error) ErrorCode {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeInternal
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func isCode(err error, code ErrorCode) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == code
}
