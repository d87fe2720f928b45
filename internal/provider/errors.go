package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes the provider uses for invalid or malformed credentials.
var authErrorCodes = map[int]bool{
	6003:  true,
	6111:  true,
	9106:  true,
	9109:  true,
	10000: true,
}

// CodeProxyRejected is returned when a record cannot be proxied, for example
// because its content is a private address.
const CodeProxyRejected = 9003

// CodeRecordNotFound is returned for an unknown record id.
const CodeRecordNotFound = 81044

// Sentinel errors.
var (
	ErrNotFound     = errors.New("provider: record not found")
	ErrInvalidToken = errors.New("provider: malformed API token")
)

// AuthError means the API token was rejected.
type AuthError struct {
	Status  int
	Code    int
	Message string
}

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider: authentication failed (%d %s): check PROVIDER_API_TOKEN or create a new API token", e.Code, e.Message)
}

// PermissionError means the token is valid but lacks access to the zone.
type PermissionError struct {
	Status  int
	Code    int
	Message string
}

// Error implements the error interface for PermissionError.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("provider: permission denied (%d %s): the token needs DNS edit permission on the zone", e.Code, e.Message)
}

// NetworkError is a transport level failure. No response was received.
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

// Error implements the error interface for NetworkError.
func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider: %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider: %s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RejectedError is a request the provider answered but refused.
type RejectedError struct {
	Status      int
	Code        int
	Message     string
	RateLimited bool
	Errors      []Message
}

// Error implements the error interface for RejectedError.
func (e *RejectedError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("provider: rate limited (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider: request rejected (HTTP %d, code %d): %s", e.Status, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) match not-found rejections.
func (e *RejectedError) Is(target error) bool {
	return target == ErrNotFound && (e.Status == http.StatusNotFound || e.Code == CodeRecordNotFound)
}

// IsRetryable reports whether err is transient: a network failure or a rate
// limit.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var rejected *RejectedError
	return errors.As(err, &rejected) && rejected.RateLimited
}

// parseError converts a failed response into a typed error.
func parseError(statusCode int, env *Envelope) error {
	var first Message
	var all []Message
	if env != nil && len(env.Errors) > 0 {
		first = env.Errors[0]
		all = env.Errors
	}
	if first.Message == "" {
		first.Message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		return &AuthError{Status: statusCode, Code: first.Code, Message: first.Message}
	case statusCode == http.StatusForbidden:
		return &PermissionError{Status: statusCode, Code: first.Code, Message: first.Message}
	case statusCode == http.StatusBadRequest && authErrorCodes[first.Code]:
		return &AuthError{Status: statusCode, Code: first.Code, Message: first.Message}
	case statusCode == http.StatusTooManyRequests:
		return &RejectedError{Status: statusCode, Code: first.Code, Message: first.Message, RateLimited: true, Errors: all}
	default:
		return &RejectedError{Status: statusCode, Code: first.Code, Message: first.Message, Errors: all}
	}
}
