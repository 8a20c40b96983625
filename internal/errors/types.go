package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	// ErrorTypeCompile is a replacement resource that failed to build. Never fatal.
	ErrorTypeCompile ErrorType = "compile"
	// ErrorTypeAllocation is a backend surface that could not be allocated at mount.
	ErrorTypeAllocation ErrorType = "allocation"
	// ErrorTypeStale is a lifecycle call for an id the registry does not know.
	ErrorTypeStale      ErrorType = "stale"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeCompileFailed     = "ERR_COMPILE_FAILED"
	ErrCodeAllocationFailed  = "ERR_ALLOCATION_FAILED"
	ErrCodeStaleInstance     = "ERR_STALE_INSTANCE"
	ErrCodeDuplicateInstance = "ERR_DUPLICATE_INSTANCE"
	ErrCodeUnknownBackend    = "ERR_UNKNOWN_BACKEND"
	ErrCodeInvalidGeometry   = "ERR_INVALID_GEOMETRY"
	ErrCodeInvalidInstanceID = "ERR_INVALID_INSTANCE_ID"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError     = "ERR_INTERNAL"
)

// Sentinels for errors.Is checks. Matching is by Type and Code.
var (
	ErrStaleInstance     = &FragmentError{Type: ErrorTypeStale, Code: ErrCodeStaleInstance, Message: "unknown preview instance"}
	ErrDuplicateInstance = &FragmentError{Type: ErrorTypeValidation, Code: ErrCodeDuplicateInstance, Message: "preview instance already exists"}
	ErrUnknownBackend    = &FragmentError{Type: ErrorTypeValidation, Code: ErrCodeUnknownBackend, Message: "unknown backend"}
	ErrInvalidGeometry   = &FragmentError{Type: ErrorTypeValidation, Code: ErrCodeInvalidGeometry, Message: "invalid surface geometry"}
)

// FragmentError is a structured error type with context.
type FragmentError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	InstanceID  string
	SurfaceID   string
	OriginPath  string
	Recoverable bool
}

// Error implements the error interface.
func (e *FragmentError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}
	if e.InstanceID != "" {
		parts = append(parts, "preview:"+e.InstanceID)
	}
	if e.OriginPath != "" {
		parts = append(parts, e.OriginPath)
	}

	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FragmentError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *FragmentError) Is(target error) bool {
	var t *FragmentError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *FragmentError) WithContext(key string, value interface{}) *FragmentError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *FragmentError) WithComponent(component string) *FragmentError {
	e.Component = component

	return e
}

// WithInstance records the preview instance the error belongs to.
func (e *FragmentError) WithInstance(id string) *FragmentError {
	e.InstanceID = id

	return e
}

// NewCompileError wraps a compiler failure for one source origin.
func NewCompileError(originPath string, cause error) *FragmentError {
	return &FragmentError{
		Type:        ErrorTypeCompile,
		Code:        ErrCodeCompileFailed,
		Message:     "program compile failed",
		Cause:       cause,
		OriginPath:  originPath,
		Recoverable: true,
	}
}

// NewAllocationError reports a surface that could not be allocated at mount.
func NewAllocationError(id string, cause error) *FragmentError {
	return &FragmentError{
		Type:        ErrorTypeAllocation,
		Code:        ErrCodeAllocationFailed,
		Message:     "surface allocation failed",
		Cause:       cause,
		InstanceID:  id,
		Recoverable: false,
	}
}

// NewStaleInstanceError reports a lifecycle call for an unknown id.
func NewStaleInstanceError(id, operation string) *FragmentError {
	return &FragmentError{
		Type:        ErrorTypeStale,
		Code:        ErrCodeStaleInstance,
		Message:     operation + " on unknown preview instance",
		InstanceID:  id,
		Recoverable: true,
	}
}

// NewDuplicateInstanceError reports a second mount for a live id.
func NewDuplicateInstanceError(id string) *FragmentError {
	return &FragmentError{
		Type:        ErrorTypeValidation,
		Code:        ErrCodeDuplicateInstance,
		Message:     "preview instance already exists",
		InstanceID:  id,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *FragmentError {
	return &FragmentError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *FragmentError {
	return &FragmentError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *FragmentError {
	return &FragmentError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *FragmentError {
	return &FragmentError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var fe *FragmentError
	if errors.As(err, &fe) {
		return fe.Recoverable
	}

	return false
}

func isType(err error, t ErrorType) bool {
	var fe *FragmentError
	if errors.As(err, &fe) {
		return fe.Type == t
	}

	return false
}

// IsCompileError checks if an error came from a failed program compile.
func IsCompileError(err error) bool { return isType(err, ErrorTypeCompile) }

// IsStale checks if an error is a lifecycle call on an unknown instance.
func IsStale(err error) bool { return isType(err, ErrorTypeStale) }

// IsAllocationFailure checks if a mount failed to allocate its surface.
func IsAllocationFailure(err error) bool { return isType(err, ErrorTypeAllocation) }
