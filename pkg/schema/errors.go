package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeGraphValidation      = "GRAPH_VALIDATION"
	ErrCodeNoMatchingTransition = "NO_MATCHING_TRANSITION"
	ErrCodeAgentInvocation      = "AGENT_INVOCATION"
	ErrCodeRecursionLimit       = "RECURSION_LIMIT"
	ErrCodeSerialization        = "SERIALIZATION"
	ErrCodeExecution            = "EXECUTION"
	ErrCodeValidation           = "VALIDATION"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeCancelled            = "CANCELLED"
	ErrCodeStore                = "STORE"
)

// FlowError is the structured error type for all engine operations.
type FlowError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	NodeSlug string         `json:"node_slug,omitempty"`
	Cause    error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeSlug != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeSlug, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the slug of the failing node.
func (e *FlowError) WithNode(slug string) *FlowError {
	e.NodeSlug = slug
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first FlowError in err's chain, or "".
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err's chain carries a FlowError with the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// AsFlowError converts any error into a FlowError, wrapping foreign errors
// under the given fallback code.
func AsFlowError(err error, fallback string) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return NewError(fallback, err.Error()).WithCause(err)
}
