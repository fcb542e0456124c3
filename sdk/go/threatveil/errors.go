// Package threatveil provides a Go client for the ThreatVeil scanning API.
package threatveil

import (
	"errors"
	"fmt"
)

// Error represents an error from the ThreatVeil API with the HTTP status
// code and the server's detail message.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("threatveil: %d: %s", e.StatusCode, e.Detail)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsInvalid returns true if the error is a 400 validation failure.
func IsInvalid(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 400
	}
	return false
}

// IsQuotaExceeded returns true if the error is a 402 (monthly scan quota
// exhausted).
func IsQuotaExceeded(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 402
	}
	return false
}

// IsConflict returns true if the error is a 409 (disallowed lifecycle
// transition).
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 409
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}
