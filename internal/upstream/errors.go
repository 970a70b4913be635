package upstream

import (
	"errors"
	"fmt"
)

// ConnectError reports a configuration rejected before any connection attempt.
type ConnectError struct {
	Reason string
}

func (e *ConnectError) Error() string {
	return "upstream connect: " + e.Reason
}

// Provider error categories, most specific first.
const (
	ErrTypeAuth      = "auth_error"
	ErrTypeRateLimit = "rate_limited"
	ErrTypeTimeout   = "timeout"
	ErrTypeGeneric   = "provider_error"
)

// ProviderError is an error reported by the provider during or after the
// connection attempt.
type ProviderError struct {
	Code    int
	ErrType string
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upstream: %s (code=%d): %s", e.ErrType, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream: %s: %s", e.ErrType, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError builds a ProviderError, categorizing by status code when
// the symbolic type is not already known.
func NewProviderError(code int, errType, message string) *ProviderError {
	if errType == "" {
		errType = classify(code)
	}
	return &ProviderError{Code: code, ErrType: errType, Message: message}
}

func classify(code int) string {
	switch code {
	case 401, 403:
		return ErrTypeAuth
	case 429:
		return ErrTypeRateLimit
	case 408:
		return ErrTypeTimeout
	default:
		return ErrTypeGeneric
	}
}

// IsProviderError reports whether err is a ProviderError of the given type.
func IsProviderError(err error, errType string) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.ErrType == errType
	}
	return false
}
