package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Wizard-specific error codes.
const (
	ErrTemplateNotFound = "TEMPLATE_NOT_FOUND"
	ErrSessionNotFound  = "SESSION_NOT_FOUND"
	ErrSessionStale     = "SESSION_STALE"
	ErrCatalogInvalid   = "CATALOG_INVALID"
)

// ErrorEnvelope is the standard error body returned over HTTP and carried in
// WebSocket error events. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewTemplateNotFoundError returns a TEMPLATE_NOT_FOUND error for id.
func NewTemplateNotFoundError(id string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTemplateNotFound,
		Message: fmt.Sprintf("template %q not found", id),
	}
}

// NewSessionNotFoundError returns the error sent when an event arrives for a
// connection without a session.
func NewSessionNotFoundError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrSessionNotFound, Message: "Session not found"}
}

// NewSessionStaleError returns a SESSION_STALE error, raised when a session
// was replaced between reading it and writing the next version.
func NewSessionStaleError(id string, expected, actual int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionStale,
		Message: fmt.Sprintf("session %q version conflict (expected %d, got %d)", id, expected, actual),
	}
}

// NewCatalogInvalidError wraps catalog validation failures.
func NewCatalogInvalidError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCatalogInvalid,
		Message: "template catalog failed validation",
		Details: details,
	}
}

// HasCode reports whether err is an *ErrorEnvelope with the given code.
func HasCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}
