// Package errors provides explicit, human-readable error types for meshgate.
// Every gateway-level error carries a Reason and a Suggestion, and the ones
// that can surface inside a response envelope convert to a Diagnostic.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/canonica-labs/meshgate/pkg/models"
)

// CanonicError is the base error type for all meshgate errors.
type CanonicError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit code mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodeAuth       ErrorCode = 2
	CodeEngine     ErrorCode = 3
	CodeInternal   ErrorCode = 4
)

func (e *CanonicError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *CanonicError) Unwrap() error {
	return e.Cause
}

// Diagnosable is implemented by errors that can be reported inside a
// response envelope instead of failing the transport.
type Diagnosable interface {
	error
	Diagnostic() models.Diagnostic
}

// ErrUnknownBackend is returned when a backend identifier does not resolve
// in the registry.
type ErrUnknownBackend struct {
	CanonicError
	Backend   string
	Available []string
}

// NewUnknownBackend creates a new ErrUnknownBackend.
func NewUnknownBackend(backend string, available []string) *ErrUnknownBackend {
	return &ErrUnknownBackend{
		CanonicError: CanonicError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("Unsupported backend: %s", backend),
			Reason:     "no adapter is registered under this identifier",
			Suggestion: fmt.Sprintf("use one of: %s", strings.Join(available, ", ")),
		},
		Backend:   backend,
		Available: available,
	}
}

// Diagnostic implements Diagnosable.
func (e *ErrUnknownBackend) Diagnostic() models.Diagnostic {
	return models.Diagnostic{
		Code:    models.CodeUnsupportedBackend,
		Message: e.Message,
	}
}

// ErrUnsupportedOperation is returned for an operation other than query or
// translate.
type ErrUnsupportedOperation struct {
	CanonicError
	Operation string
}

// NewUnsupportedOperation creates a new ErrUnsupportedOperation.
func NewUnsupportedOperation(operation string) *ErrUnsupportedOperation {
	return &ErrUnsupportedOperation{
		CanonicError: CanonicError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("Unsupported operation: %s", operation),
			Reason:     "only 'query' and 'translate' are supported",
			Suggestion: "set operation to 'query' or 'translate'",
		},
		Operation: operation,
	}
}

// Diagnostic implements Diagnosable.
func (e *ErrUnsupportedOperation) Diagnostic() models.Diagnostic {
	return models.Diagnostic{
		Code:    models.CodeUnsupportedOperation,
		Message: e.Message,
		Context: map[string]any{"operation": e.Operation},
	}
}

// ErrNoResult is returned when an adapter produced neither rows nor errors.
type ErrNoResult struct {
	CanonicError
	Backend string
}

// NewNoResult creates a new ErrNoResult.
func NewNoResult(backend string) *ErrNoResult {
	return &ErrNoResult{
		CanonicError: CanonicError{
			Code:       CodeEngine,
			Message:    "backend returned neither rows nor errors",
			Reason:     fmt.Sprintf("adapter %q produced an empty result", backend),
			Suggestion: "retry with debug_mode enabled and inspect the backend logs",
		},
		Backend: backend,
	}
}

// Diagnostic implements Diagnosable.
func (e *ErrNoResult) Diagnostic() models.Diagnostic {
	d := models.Diagnostic{
		Code:    models.CodeNoResult,
		Message: e.Message,
	}
	if e.Backend != "" {
		d.Context = map[string]any{"backend": e.Backend}
	}
	return d
}

// ErrInvalidRequest is returned when an inbound request cannot be decoded
// or is missing a required field.
type ErrInvalidRequest struct {
	CanonicError
	Field string
}

// NewInvalidRequest creates a new ErrInvalidRequest.
func NewInvalidRequest(field, reason string) *ErrInvalidRequest {
	return &ErrInvalidRequest{
		CanonicError: CanonicError{
			Code:       CodeValidation,
			Message:    "invalid request",
			Reason:     fmt.Sprintf("field '%s': %s", field, reason),
			Suggestion: "send a JSON body with a non-empty 'query' field",
		},
		Field: field,
	}
}

// ErrInvalidConfig is returned when configuration values are inconsistent.
type ErrInvalidConfig struct {
	CanonicError
	Field string
}

// NewInvalidConfig creates a new ErrInvalidConfig.
func NewInvalidConfig(field, reason string) *ErrInvalidConfig {
	return &ErrInvalidConfig{
		CanonicError: CanonicError{
			Code:       CodeValidation,
			Message:    "invalid configuration",
			Reason:     fmt.Sprintf("%s: %s", field, reason),
			Suggestion: "check meshgate.yaml or the MESHGATE_* environment variables",
		},
		Field: field,
	}
}

// ErrBackendUnavailable is returned when a backend cannot be reached.
type ErrBackendUnavailable struct {
	CanonicError
	Backend string
}

// NewBackendUnavailable creates a new ErrBackendUnavailable.
func NewBackendUnavailable(backend string, cause error) *ErrBackendUnavailable {
	return &ErrBackendUnavailable{
		CanonicError: CanonicError{
			Code:       CodeEngine,
			Message:    fmt.Sprintf("backend unavailable: %s", backend),
			Reason:     "the backend did not respond to a health check",
			Suggestion: "check backend status with 'meshgate status'",
			Cause:      cause,
		},
		Backend: backend,
	}
}

// Diagnostic implements Diagnosable.
func (e *ErrBackendUnavailable) Diagnostic() models.Diagnostic {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return models.Diagnostic{
		Code:    "BACKEND_UNAVAILABLE",
		Message: msg,
		Context: map[string]any{"backend": e.Backend, "category": "connection"},
	}
}

// ErrGatewayUnavailable is returned by the CLI client when the gateway
// cannot be reached.
type ErrGatewayUnavailable struct {
	CanonicError
	Endpoint string
}

// NewGatewayUnavailable creates a new ErrGatewayUnavailable.
func NewGatewayUnavailable(endpoint string, cause error) *ErrGatewayUnavailable {
	return &ErrGatewayUnavailable{
		CanonicError: CanonicError{
			Code:       CodeInternal,
			Message:    fmt.Sprintf("gateway unavailable at %s", endpoint),
			Reason:     "the request could not be completed",
			Suggestion: "start the gateway with 'meshgate serve' or pass --endpoint",
			Cause:      cause,
		},
		Endpoint: endpoint,
	}
}

// AsDiagnostic converts err into a diagnostic. Errors that do not implement
// Diagnosable become EXECUTION_ERROR.
func AsDiagnostic(err error) models.Diagnostic {
	var d Diagnosable
	if stderrors.As(err, &d) {
		return d.Diagnostic()
	}
	return models.Diagnostic{Code: "EXECUTION_ERROR", Message: err.Error()}
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce interface{ code() ErrorCode }
	if stderrors.As(err, &ce) {
		return int(ce.code())
	}
	return int(CodeInternal)
}

func (e *CanonicError) code() ErrorCode {
	return e.Code
}
