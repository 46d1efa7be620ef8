package autherr

import (
	"errors"
	"fmt"
)

// Code is the stable discriminator callers switch on. Message wording may
// change between releases, codes do not.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNetwork            Code = "NETWORK_ERROR"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccessDenied       Code = "ACCESS_DENIED"
	CodeServiceNotFound    Code = "SERVICE_NOT_FOUND"
	CodeUserExists         Code = "USER_EXISTS"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeServerError        Code = "SERVER_ERROR"
	CodeAPIError           Code = "API_ERROR"
	CodeStorage            Code = "STORAGE_ERROR"
	CodeUnknown            Code = "UNKNOWN_ERROR"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrValidation         = &Error{Code: CodeValidation}
	ErrNetwork            = &Error{Code: CodeNetwork}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials}
	ErrAccessDenied       = &Error{Code: CodeAccessDenied}
	ErrServiceNotFound    = &Error{Code: CodeServiceNotFound}
	ErrUserExists         = &Error{Code: CodeUserExists}
	ErrRateLimited        = &Error{Code: CodeRateLimited}
	ErrServerError        = &Error{Code: CodeServerError}
	ErrStorage            = &Error{Code: CodeStorage}
)

// Error is the single error type surfaced by the session subsystem.
// Status is zero when no HTTP response was involved.
type Error struct {
	Message string
	Code    Code
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports code equality so that errors.Is(err, ErrValidation) works for
// any validation failure regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(message string, code Code, status int) *Error {
	return &Error{Message: message, Code: code, Status: status}
}

// NewValidation reports a local pre-flight check failure.
func NewValidation(message string) *Error {
	if message == "" {
		message = "Validation failed"
	}
	return &Error{Message: message, Code: CodeValidation}
}

// NewNetwork reports a request that never got a response from the server.
func NewNetwork(message string, cause error) *Error {
	if message == "" {
		message = "Network error occurred"
	}
	return &Error{Message: message, Code: CodeNetwork, Err: cause}
}

// NewStorage reports a failed write to the persistent store.
func NewStorage(message string, cause error) *Error {
	if message == "" {
		message = "Storage operation failed"
	}
	return &Error{Message: message, Code: CodeStorage, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
