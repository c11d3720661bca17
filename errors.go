package authflow

import (
	"errors"
	"fmt"
)

// Error codes returned with AuthError values.
const (
	ErrCodeScriptLoad        = "script_load_failed"
	ErrCodeElementNotFound   = "element_not_found"
	ErrCodeWidgetTimeout     = "widget_timeout"
	ErrCodeMissingSessionID  = "missing_session_id"
	ErrCodeAborted           = "aborted"
	ErrCodeRetriesExhausted  = "retries_exhausted"
	ErrCodeInvalidAuthData   = "invalid_auth_data"
	ErrCodeStaleAuthData     = "stale_auth_data"
	ErrCodeUnsupportedMethod = "unsupported_method"
	ErrCodeAPIError          = "api_error"
)

// Sentinel errors for the failure modes callers branch on. Wrapped values
// can be tested with errors.Is.
var (
	// ErrScriptLoad means the widget bridge could not be brought up.
	ErrScriptLoad = errors.New("widget script failed to load")
	// ErrElementNotFound means a widget container was never registered.
	ErrElementNotFound = errors.New("widget container not found")
	// ErrWidgetTimeout means the widget produced no completion event in time.
	ErrWidgetTimeout = errors.New("widget authentication timed out")
	// ErrMissingSessionID means confirm was called without an initialized session.
	ErrMissingSessionID = errors.New("session id is required")
	// ErrAborted means the caller cancelled the flow. It is benign and is
	// never surfaced as a user-facing failure.
	ErrAborted = errors.New("authentication aborted")
	// ErrRetriesExhausted means the polling budget ran out before the
	// backend confirmed the session.
	ErrRetriesExhausted = errors.New("confirmation retries exhausted")
	// ErrUnsupportedMethod means a two-factor sender was asked to handle a
	// method type it does not implement.
	ErrUnsupportedMethod = errors.New("unsupported two-factor method")
	// ErrListenerActive means Authenticate was called while a previous
	// call was still waiting for a widget event.
	ErrListenerActive = errors.New("widget listener already active")
)

// AuthError carries a machine-readable code alongside the message, plus the
// field the error relates to when there is one.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`

	cause error
}

func (e *AuthError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.cause }

// NewAuthError creates an AuthError with the given code, message and field.
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// WrapAuthError attaches a code and message to an underlying error while
// keeping it reachable through errors.Is/As.
func WrapAuthError(code, message string, cause error) *AuthError {
	return &AuthError{Code: code, Message: message, cause: cause}
}
