// Package models provides shared data models for the meshgate public API.
// These are the wire shapes used by the HTTP surface, the MCP surface and
// the CLI client.
package models

// Diagnostic codes produced by the gateway itself. Adapter-produced codes
// (PARSER_ERROR, TIMEOUT, ...) are forwarded verbatim and are not listed here.
const (
	CodeUnsupportedBackend   = "UNSUPPORTED_BACKEND"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeNoResult             = "NO_RESULT"
)

// Location points at the position in the query text a diagnostic refers to.
type Location struct {
	Line   int `json:"line,omitempty" yaml:"line,omitempty"`
	Column int `json:"column,omitempty" yaml:"column,omitempty"`
	// Offset is a 1-based character offset, reported by drivers that do not
	// track lines (PostgreSQL).
	Offset int `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// IsZero reports whether the location carries no position at all.
func (l *Location) IsZero() bool {
	return l == nil || (l.Line == 0 && l.Column == 0 && l.Offset == 0)
}

// Diagnostic is a structured error or warning record.
// Optional fields are omitted from the wire when absent.
type Diagnostic struct {
	Code       string         `json:"code" yaml:"code"`
	Message    string         `json:"message" yaml:"message"`
	Context    map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	Location   *Location      `json:"location,omitempty" yaml:"location,omitempty"`
	StackTrace string         `json:"stack_trace,omitempty" yaml:"stack_trace,omitempty"`
}

// String renders the diagnostic as "CODE: message".
func (d Diagnostic) String() string {
	return d.Code + ": " + d.Message
}

// QueryRequest is the body of POST /run_query.
// Backend and Operation are kept as plain strings so that unknown values
// reach the gateway and come back as diagnostics instead of bind failures.
type QueryRequest struct {
	Query     string `json:"query"`
	Backend   string `json:"backend,omitempty"`
	Operation string `json:"operation,omitempty"`
	DebugMode bool   `json:"debug_mode,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Server string `json:"server"`
}

// ErrorResponse is the body of transport-level failures.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// BackendInfo describes one registered backend.
type BackendInfo struct {
	Name   string `json:"name" yaml:"name"`
	Driver string `json:"driver" yaml:"driver"`
}

// BackendsResponse is the body of GET /backends.
type BackendsResponse struct {
	Backends []BackendInfo `json:"backends" yaml:"backends"`
}

// ComponentHealth is the readiness of one backend.
type ComponentHealth struct {
	Ready   bool   `json:"ready" yaml:"ready"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// ReadinessResponse is the body of GET /readyz.
type ReadinessResponse struct {
	Ready    bool                       `json:"ready" yaml:"ready"`
	Version  string                     `json:"version" yaml:"version"`
	Backends map[string]ComponentHealth `json:"backends" yaml:"backends"`
}
