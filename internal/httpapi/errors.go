package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"modelbench/internal/catalog"
	"modelbench/internal/download"
	"modelbench/internal/engine"
	"modelbench/internal/suite"
	"modelbench/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

type statusError struct {
	code int
	msg  string
}

func (e statusError) Error() string   { return e.msg }
func (e statusError) StatusCode() int { return e.code }

// ErrBusy is returned when a test run is already in progress.
var ErrBusy HTTPError = statusError{code: http.StatusTooManyRequests, msg: "test run already in progress"}

// ErrNoSuite is returned by test routes when the daemon has no suite loaded.
var ErrNoSuite HTTPError = statusError{code: http.StatusNotFound, msg: "no test suite loaded"}

// BadRequest wraps a client input problem as a 400.
func BadRequest(msg string) HTTPError { return statusError{code: http.StatusBadRequest, msg: msg} }

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.Is(err, catalog.ErrModelNotFound):
		return http.StatusNotFound
	case engine.IsSessionClosed(err), errors.Is(err, engine.ErrNotReady):
		return http.StatusConflict
	case engine.IsDependencyUnavailable(err), errors.Is(err, engine.ErrUnsupportedBackend), errors.Is(err, download.ErrDisposed):
		return http.StatusServiceUnavailable
	case engine.IsInitialization(err), errors.Is(err, engine.ErrToolsUnsupported):
		return http.StatusUnprocessableEntity
	case download.IsTransferError(err):
		return http.StatusBadGateway
	case suite.IsSuiteLoad(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps err and writes it, returning the status used.
func writeError(w http.ResponseWriter, err error) int {
	code := statusFor(err)
	writeJSONError(w, code, err.Error())
	return code
}
