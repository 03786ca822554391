package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is wrapped by every SessionClosedError.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotReady is returned for prompts before a successful Initialize.
	ErrNotReady = errors.New("session not ready")
	// ErrToolsUnsupported is returned when tools are set on a model or backend
	// without tool calling.
	ErrToolsUnsupported = errors.New("model does not support tool calling")
	// ErrUnsupportedBackend is returned by NewBackend for backends this build
	// cannot provide.
	ErrUnsupportedBackend = errors.New("unsupported inference backend")
	// ErrToolRoundsExceeded ends a turn whose model keeps requesting tools.
	ErrToolRoundsExceeded = errors.New("too many tool rounds")
)

// SessionClosedError reports an operation on a closed session.
type SessionClosedError struct{ Op string }

func (e *SessionClosedError) Error() string { return e.Op + ": " + ErrSessionClosed.Error() }
func (e *SessionClosedError) Unwrap() error { return ErrSessionClosed }

// IsSessionClosed reports whether err indicates a closed session (409).
func IsSessionClosed(err error) bool { return errors.Is(err, ErrSessionClosed) }

// InitializationError reports a failure to validate or load a model bundle.
type InitializationError struct {
	Path  string
	Stage string // validate, load
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %s: %s: %v", e.Path, e.Stage, e.Err)
}
func (e *InitializationError) Unwrap() error { return e.Err }

// IsInitialization reports whether err is or wraps an InitializationError.
func IsInitialization(err error) bool {
	var ie *InitializationError
	return errors.As(err, &ie)
}

// InferenceError reports a runtime fault during a prompt.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string { return "inference " + e.Op + ": " + e.Err.Error() }
func (e *InferenceError) Unwrap() error { return e.Err }

// IsInference reports whether err is or wraps an InferenceError.
func IsInference(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie)
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}
