// Package remote provides an HTTP client for the Tandem document API
// with automatic read retry, error classification, and optimistic
// concurrency via versioned If-Match preconditions.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrValidation   = errors.New("remote: validation rejected")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrExists       = errors.New("remote: already exists")
	ErrThrottled    = errors.New("remote: throttled")
	ErrServerError  = errors.New("remote: server error")
	ErrTimeout      = errors.New("remote: request timed out")
	ErrNetwork      = errors.New("remote: network unreachable")
)

// APIError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// VersionConflictError reports a write rejected by the server's version
// precondition (HTTP 412, or 409 on create). Remote carries the server's
// current document from the response body so the conflict resolver can
// decide without a second round trip. Remote is nil when the server
// omitted the body.
type VersionConflictError struct {
	Remote *Document
}

func (e *VersionConflictError) Error() string {
	if e.Remote == nil {
		return "remote: version precondition failed"
	}

	return fmt.Sprintf("remote: version precondition failed (server has v%d)", e.Remote.Version)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes. 409 and 412 are handled before
// classification because they carry the current document.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrExists
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryableStatus reports whether the given HTTP status code should be
// retried by the client's read path.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether an error from this package is transient:
// retrying the same request later may succeed. Version conflicts are
// never retryable; they need the conflict resolver, not a retry.
func IsRetryable(err error) bool {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return false
	}

	return errors.Is(err, ErrThrottled) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetwork)
}
