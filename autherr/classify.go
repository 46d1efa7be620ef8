package autherr

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// FromStatus maps a backend HTTP status to a taxonomy error. message is the
// backend supplied text, if any; fallback is used when neither the status nor
// the backend gives a better description.
func FromStatus(status int, message, fallback string) *Error {
	switch {
	case status == http.StatusBadRequest:
		if message == "" {
			message = "Invalid request data"
		}
		return &Error{Message: message, Code: CodeValidation, Status: status}
	case status == http.StatusUnauthorized:
		return New("Invalid credentials", CodeInvalidCredentials, status)
	case status == http.StatusForbidden:
		return New("Access denied", CodeAccessDenied, status)
	case status == http.StatusNotFound:
		return New("Service not found", CodeServiceNotFound, status)
	case status == http.StatusConflict:
		if message == "" {
			message = "User already exists"
		}
		return New(message, CodeUserExists, status)
	case status == http.StatusTooManyRequests:
		return New("Too many attempts. Please try again later.", CodeRateLimited, status)
	case status >= 500 && status <= 599:
		return New("Server error. Please try again later.", CodeServerError, status)
	}
	if message == "" {
		message = fallback
	}
	return New(message, CodeAPIError, status)
}

// FromTransport classifies an error returned by an http.Client call, where no
// response was read. Errors already in the taxonomy pass through untouched.
func FromTransport(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var ue *url.Error
	var ne net.Error
	if errors.As(err, &ue) || errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return NewNetwork("No response from server. Please check your connection.", err)
	}
	return &Error{Message: fallback, Code: CodeUnknown, Err: err}
}

// Classify is the single entry point used by callers that hold either a
// transport error or a non-2xx status. It logs what it returns.
func Classify(err error, status int, message, fallback string) *Error {
	var out *Error
	if err != nil {
		out = FromTransport(err, fallback)
	} else {
		out = FromStatus(status, message, fallback)
	}
	log.Debug().Str("code", string(out.Code)).Int("status", out.Status).Msg(fallback)
	return out
}
