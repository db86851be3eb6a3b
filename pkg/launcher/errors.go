package launcher

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error represents a launch error with additional context for troubleshooting.
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	// Recoverable: the controller retries on the next port
	ErrorCodePortContention ErrorCode = "PORT_CONTENTION"

	// Fatal launch errors
	ErrorCodeLaunchFailed         ErrorCode = "LAUNCH_FAILED"
	ErrorCodeExecutableNotFound   ErrorCode = "EXECUTABLE_NOT_FOUND"
	ErrorCodeVersionUnknown       ErrorCode = "VERSION_UNKNOWN"
	ErrorCodeReadyTimeout         ErrorCode = "READY_TIMEOUT"
	ErrorCodeStorageUnavailable   ErrorCode = "STORAGE_UNAVAILABLE"
	ErrorCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
)

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var contextParts []string
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none
func CodeOf(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsPortContention reports whether err means the port was taken and the
// launch may be retried on another port.
func IsPortContention(err error) bool {
	return CodeOf(err) == ErrorCodePortContention
}

// Common error constructors with helpful suggestions

// ErrPortContention creates an error for a port that is already bound
func ErrPortContention(addr string, port int, cause error) *Error {
	return NewError(ErrorCodePortContention,
		fmt.Sprintf("Port %d is already in use", port)).
		WithContext("bind_address", addr).
		WithContext("port", port).
		WithCause(cause)
}

// ErrLaunchFailed creates an error for a backing store that did not start
func ErrLaunchFailed(name string, cause error) *Error {
	return NewError(ErrorCodeLaunchFailed,
		fmt.Sprintf("Failed to start %s", name)).
		WithContext("store", name).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Executable or image not available\n" +
				"  2. Storage engine not supported by this version\n" +
				"  3. Insufficient permissions on the storage directory\n" +
				"Re-run with debug logging to see the process output")
}

// ErrExecutableNotFound creates an error for a missing backing store binary
func ErrExecutableNotFound(name, searched string) *Error {
	return NewError(ErrorCodeExecutableNotFound,
		fmt.Sprintf("Executable '%s' not found", name)).
		WithContext("executable", name).
		WithContext("searched", searched).
		WithSuggestion(fmt.Sprintf(
			"Install %s on PATH, or point %s at a directory holding a locally built binary",
			name, EnvLocalBuild))
}

// ErrVersionUnknown creates an error for a version that cannot be determined
func ErrVersionUnknown(name string, cause error) *Error {
	return NewError(ErrorCodeVersionUnknown,
		fmt.Sprintf("Cannot determine %s version", name)).
		WithContext("store", name).
		WithCause(cause).
		WithSuggestion("Configure the version or storage engine explicitly")
}

// ErrReadyTimeout creates an error for a process that never became ready
func ErrReadyTimeout(name string, port int, waited time.Duration) *Error {
	return NewError(ErrorCodeReadyTimeout,
		fmt.Sprintf("%s did not accept connections in time", name)).
		WithContext("store", name).
		WithContext("port", port).
		WithContext("waited", waited.String())
}

// ErrStorageUnavailable creates an error for a storage directory that cannot be created
func ErrStorageUnavailable(dir string, cause error) *Error {
	return NewError(ErrorCodeStorageUnavailable,
		"Storage directory cannot be created").
		WithContext("storage_directory", dir).
		WithCause(cause).
		WithSuggestion("Choose a writable storage directory")
}
