package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the execution core.
type ErrorCode string

// Workflow and graph error codes
const (
	ErrConfiguration     ErrorCode = "CONFIGURATION"
	ErrCyclicGraph       ErrorCode = "CYCLIC_GRAPH"
	ErrUnknownDependency ErrorCode = "UNKNOWN_DEPENDENCY"
	ErrMissingInput      ErrorCode = "MISSING_INPUT"
)

// Job and worker pool error codes
const (
	ErrExecution     ErrorCode = "EXECUTION"
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrQueueClosed   ErrorCode = "QUEUE_CLOSED"
	ErrRetryExceeded ErrorCode = "RETRY_EXCEEDED"
)

// Cache and persistence error codes
const (
	ErrPersistence     ErrorCode = "PERSISTENCE"
	ErrCacheCorruption ErrorCode = "CACHE_CORRUPTION"
	ErrCacheClosed     ErrorCode = "CACHE_CLOSED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	NodeID    string    `json:"node_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithNode attaches the workflow node the error originated from.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithJob attaches the job the error originated from.
func (e *Error) WithJob(jobID string) *Error {
	e.JobID = jobID
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
