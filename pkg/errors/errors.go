package pulse_errors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateExceeded = errors.New("rate limit exceeded")
	ErrTransport    = errors.New("transport unavailable")
	ErrUpstream     = errors.New("upstream failure")
)

// Code returns the wire code used in HTTP and socket error payloads.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrRateExceeded):
		return "RATE_LIMITED"
	case errors.Is(err, ErrTransport):
		return "TRANSPORT_ERROR"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

// FromCode maps a wire code back onto its sentinel. Unknown codes map to nil.
func FromCode(code string) error {
	switch code {
	case "INVALID_REQUEST":
		return ErrValidation
	case "UNAUTHORIZED":
		return ErrUnauthorized
	case "FORBIDDEN":
		return ErrForbidden
	case "NOT_FOUND":
		return ErrNotFound
	case "CONFLICT":
		return ErrConflict
	case "RATE_LIMITED":
		return ErrRateExceeded
	case "TRANSPORT_ERROR":
		return ErrTransport
	case "UPSTREAM_FAILED":
		return ErrUpstream
	}
	return nil
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}
