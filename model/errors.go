package model

import (
	"errors"
	"fmt"
)

// Sentinels wrapped by InvocationError to classify local misuse.
var (
	ErrInvalidTarget    = errors.New("invalid invocation target")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrUnexpectedResult = errors.New("unexpected result kind")
)

// InvocationError reports that an invocation could not complete a round
// trip: the transport failed, the response was not a readable envelope, or
// the request could not be built. It is never used for an ok:false envelope,
// which is a completed round trip.
type InvocationError struct {
	Message string
	// HTTPStatus is the response status when one was received, else 0.
	HTTPStatus int
	// RequestID is set when the gateway assigned one despite the failure.
	RequestID string
	Err       error
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("invocation failed (status %d): %s", e.HTTPStatus, e.Message)
	}
	return "invocation failed: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *InvocationError) Unwrap() error { return e.Err }

// NewInvocationError wraps err, keeping its message.
func NewInvocationError(err error) *InvocationError {
	return &InvocationError{Message: err.Error(), Err: err}
}

// AsInvocationError reports whether err is, or wraps, an InvocationError.
func AsInvocationError(err error) (*InvocationError, bool) {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// Standard error codes used by the sidecar HTTP surface.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrKindMismatch       = "KIND_MISMATCH"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// ErrorEnvelope is the error body written by the sidecar for failures that
// happen before or instead of a gateway round trip. It implements error.
type ErrorEnvelope struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewKindMismatchError returns a KIND_MISMATCH error for a payload sent to a
// resource of another family.
func NewKindMismatchError(want, got ResourceKind) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrKindMismatch,
		Message: fmt.Sprintf("resource expects %s payloads, got %s", want, got),
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error carrying
// the invocation failure's message.
func NewBackendUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBackendUnavailable, Message: msg}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The resource gateway did not respond in time",
	}
}
