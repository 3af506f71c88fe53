// Package errors provides the structured error taxonomy of the virtual file system with error codes, categories, and context.
package errors

import (
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for VFS operations.
type ErrorCode string

// Error code constants, one per kind of failure a handler can report.
const (
	// Reference errors
	ErrCodeParse               ErrorCode = "PARSE_ERROR"
	ErrCodeUnknownScheme       ErrorCode = "UNKNOWN_SCHEME"
	ErrCodeIncompleteReference ErrorCode = "INCOMPLETE_REFERENCE"

	// Filesystem errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeExists       ErrorCode = "EXISTS"
	ErrCodeNotDirectory ErrorCode = "NOT_A_DIRECTORY"
	ErrCodeIsDirectory  ErrorCode = "IS_A_DIRECTORY"
	ErrCodeReadOnly     ErrorCode = "READ_ONLY"

	// Authentication errors
	ErrCodeAuthCancelled ErrorCode = "AUTH_CANCELLED"
	ErrCodeAuthFailed    ErrorCode = "AUTH_FAILED"

	// Transport and backend errors
	ErrCodeNetwork ErrorCode = "NETWORK_ERROR"
	ErrCodeBackend ErrorCode = "BACKEND_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryReference  ErrorCategory = "reference"
	CategoryFilesystem ErrorCategory = "filesystem"
	CategoryAuth       ErrorCategory = "auth"
	CategoryTransport  ErrorCategory = "transport"
	CategoryBackend    ErrorCategory = "backend"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrParse               = &VFSError{Code: ErrCodeParse}
	ErrUnknownScheme       = &VFSError{Code: ErrCodeUnknownScheme}
	ErrIncompleteReference = &VFSError{Code: ErrCodeIncompleteReference}
	ErrNotFound            = &VFSError{Code: ErrCodeNotFound}
	ErrExists              = &VFSError{Code: ErrCodeExists}
	ErrNotDirectory        = &VFSError{Code: ErrCodeNotDirectory}
	ErrIsDirectory         = &VFSError{Code: ErrCodeIsDirectory}
	ErrReadOnly            = &VFSError{Code: ErrCodeReadOnly}
	ErrAuthCancelled       = &VFSError{Code: ErrCodeAuthCancelled}
	ErrAuthFailed          = &VFSError{Code: ErrCodeAuthFailed}
	ErrNetwork             = &VFSError{Code: ErrCodeNetwork}
	ErrBackend             = &VFSError{Code: ErrCodeBackend}
)

// VFSError represents a structured error with context and metadata.
type VFSError struct {
	// Core error information
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// The reference the operation was applied to, in string form.
	Reference string `json:"reference,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	// Operational metadata
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Backend payload, set for BACKEND_ERROR and carried through from HTTP style stores.
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *VFSError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		if e.Operation != "" {
			fmt.Fprintf(&b, "[%s:%s] ", e.Component, e.Operation)
		} else {
			fmt.Fprintf(&b, "[%s] ", e.Component)
		}
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Reference != "" {
		fmt.Fprintf(&b, " (%s)", e.Reference)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " [%d %s]", e.Status, e.Reason)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *VFSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
// NOT_FOUND also matches fs.ErrNotExist and EXISTS matches fs.ErrExist.
func (e *VFSError) Is(target error) bool {
	if vfsErr, ok := target.(*VFSError); ok {
		return e.Code == vfsErr.Code
	}
	switch target {
	case fs.ErrNotExist:
		return e.Code == ErrCodeNotFound
	case fs.ErrExist:
		return e.Code == ErrCodeExists
	case fs.ErrPermission:
		return e.Code == ErrCodeReadOnly
	}
	return false
}

// NewError creates a new VFS error with default values.
func NewError(code ErrorCode, message string) *VFSError {
	return &VFSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeParse, ErrCodeUnknownScheme, ErrCodeIncompleteReference:
		return CategoryReference
	case ErrCodeNotFound, ErrCodeExists, ErrCodeNotDirectory, ErrCodeIsDirectory, ErrCodeReadOnly:
		return CategoryFilesystem
	case ErrCodeAuthCancelled, ErrCodeAuthFailed:
		return CategoryAuth
	case ErrCodeNetwork:
		return CategoryTransport
	default:
		return CategoryBackend
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	return code == ErrCodeNetwork
}

// IsRetryable reports whether err carries a retryable VFS error.
func IsRetryable(err error) bool {
	var vfsErr *VFSError
	if As(err, &vfsErr) {
		return vfsErr.Retryable
	}
	return false
}

// CodeOf returns the code of the first VFSError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var vfsErr *VFSError
	if As(err, &vfsErr) {
		return vfsErr.Code
	}
	return ""
}

// WithReference records the reference the failed operation targeted
func (e *VFSError) WithReference(ref fmt.Stringer) *VFSError {
	e.Reference = ref.String()
	return e
}

// WithComponent sets the component for an error
func (e *VFSError) WithComponent(component string) *VFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *VFSError) WithOperation(operation string) *VFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *VFSError) WithCause(cause error) *VFSError {
	e.Cause = cause
	return e
}

// WithStatus attaches a backend status code and reason phrase.
func (e *VFSError) WithStatus(status int, reason string) *VFSError {
	e.Status = status
	e.Reason = reason
	if status >= 500 {
		e.Retryable = true
	}
	return e
}
