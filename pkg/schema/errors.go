package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeExecution              = "EXECUTION_ERROR"
	ErrCodeTimeout                = "TIMEOUT_ERROR"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeCircularDependency     = "CIRCULAR_DEPENDENCY"
	ErrCodeNodeDefinitionNotFound = "NODE_DEFINITION_NOT_FOUND"
	ErrCodeNodeNotFound           = "NODE_NOT_FOUND"
	ErrCodeCodeSafety             = "CODE_SAFETY_VALIDATION_FAILED"
	ErrCodeCancelled              = "CANCELLED"
	ErrCodeCircuitOpen            = "CIRCUIT_OPEN"
	ErrCodeStore                  = "STORE_ERROR"
	ErrCodeVault                  = "VAULT_ERROR"
)

// DataflowError is the structured error type for all engine operations.
type DataflowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DataflowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DataflowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DataflowError.
func NewError(code, message string) *DataflowError {
	return &DataflowError{Code: code, Message: message}
}

// NewErrorf creates a new DataflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *DataflowError {
	return &DataflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *DataflowError) WithNode(nodeID string) *DataflowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *DataflowError) WithCause(err error) *DataflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *DataflowError) WithDetails(details map[string]any) *DataflowError {
	e.Details = details
	return e
}

// ErrorCode extracts the code of a DataflowError anywhere in err's chain.
// Returns an empty string for foreign errors.
func ErrorCode(err error) string {
	var de *DataflowError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
