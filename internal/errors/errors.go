// Package errors provides the error taxonomy shared by the sync layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the failure modes callers branch on.
var (
	// ErrNotFound means a referenced entity id or remote path does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrAuthRejected means the remote refused the stored token. The session is torn down.
	ErrAuthRejected = errors.New("authentication failed, please sign in again")
	// ErrConflict means the content hash precondition failed on write.
	ErrConflict = errors.New("remote document changed since it was read")
	// ErrUnauthenticated means a write was attempted without a session.
	ErrUnauthenticated = errors.New("not signed in")
	ErrInvalidInput    = errors.New("invalid input")
)

// APIError is a transport failure: a network error or a non-2xx status not covered
// by the sentinels above.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// HTTPStatus maps an error onto the status code the local API answers with.
func HTTPStatus(err error) int {
	var apiErr *APIError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAuthRejected), errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Kind returns a short machine-readable label, used for problem types and metric labels.
func Kind(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthRejected):
		return "auth_rejected"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.As(err, &apiErr):
		return "transport_failure"
	}
	return "internal_error"
}
