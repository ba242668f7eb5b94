package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind enumerates the gateway's error taxonomy. These are
// kinds, not Go types: every error surfaced to an HTTP caller carries one of
// these as its wire "type" field.
type ErrorKind string

const (
	ErrorAuthentication    ErrorKind = "authentication_error"
	ErrorPermission        ErrorKind = "permission_error"
	ErrorBudgetExceeded    ErrorKind = "budget_exceeded_error"
	ErrorInvalidRequest    ErrorKind = "invalid_request_error"
	ErrorRateLimit         ErrorKind = "rate_limit_error"
	ErrorNotFound          ErrorKind = "not_found_error"
	ErrorAPI               ErrorKind = "api_error"
	ErrorServiceUnavailable ErrorKind = "service_unavailable"
	ErrorPTCSessionNotFound ErrorKind = "ptc_session_not_found"
)

// httpStatus maps each error kind to its HTTP status code.
var httpStatus = map[ErrorKind]int{
	ErrorAuthentication:     http.StatusUnauthorized,
	ErrorPermission:         http.StatusForbidden,
	ErrorBudgetExceeded:     http.StatusPaymentRequired,
	ErrorInvalidRequest:     http.StatusBadRequest,
	ErrorRateLimit:          http.StatusTooManyRequests,
	ErrorNotFound:           http.StatusNotFound,
	ErrorAPI:                http.StatusInternalServerError,
	ErrorServiceUnavailable: http.StatusServiceUnavailable,
	ErrorPTCSessionNotFound: http.StatusConflict,
}

// GatewayError is the single internal error type carrying a taxonomy kind,
// HTTP status, message and optional cause. It mirrors
// runtime/agent/model.ProviderError's shape (kind/http/message/cause) but is
// scoped to the gateway's own error kinds rather than provider-specific
// ones; backend provider errors are translated into a GatewayError exactly
// once, at the backend invoker boundary (internal/backend), and never
// re-wrapped afterward.
type GatewayError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Cause   error
}

// NewGatewayError constructs a GatewayError, deriving the HTTP status from
// kind (500 for a kind missing from the status table).
func NewGatewayError(kind ErrorKind, message string, cause error) *GatewayError {
	status, ok := httpStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &GatewayError{Kind: kind, Status: status, Message: message, Cause: cause}
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap preserves the original error chain.
func (e *GatewayError) Unwrap() error { return e.Cause }

// AsGatewayError returns the first GatewayError in err's chain, if any.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Invalid is shorthand for NewGatewayError(ErrorInvalidRequest, ...).
func Invalid(format string, args ...any) *GatewayError {
	return NewGatewayError(ErrorInvalidRequest, fmt.Sprintf(format, args...), nil)
}

// Internal is shorthand for NewGatewayError(ErrorAPI, ...).
func Internal(message string, cause error) *GatewayError {
	return NewGatewayError(ErrorAPI, message, cause)
}

// WireError is the JSON body of a non-streaming error response.
type WireError struct {
	Type  string     `json:"type"`
	Error WireDetail `json:"error"`
}

// WireDetail carries the kind/message pair nested inside WireError.
type WireDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ToWire renders e as the Anthropic-shaped error body.
func (e *GatewayError) ToWire() WireError {
	return WireError{
		Type: "error",
		Error: WireDetail{
			Type:    string(e.Kind),
			Message: e.Message,
		},
	}
}
