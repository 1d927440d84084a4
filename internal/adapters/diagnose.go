package adapters

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/canonica-labs/meshgate/pkg/models"
)

// Diagnostic categories reported in Diagnostic.Context["category"].
const (
	CategoryCompile    = "compile"
	CategoryExecution  = "execution"
	CategoryConnection = "connection"
)

// Shared diagnostic codes.
const (
	CodeTimeout              = "TIMEOUT"
	CodeCancelled            = "CANCELLED"
	CodeConnectionError      = "CONNECTION_ERROR"
	CodeBackendUnavailable   = "BACKEND_UNAVAILABLE"
	CodeExecutionError       = "EXECUTION_ERROR"
	CodeResultTruncated      = "RESULT_TRUNCATED"
	CodeUnsupportedStatement = "UNSUPPORTED_STATEMENT"
)

// compileKinds are the "<Kind> Error:" prefixes that mean the statement
// never ran.
var compileKinds = map[string]bool{
	"PARSER":  true,
	"SYNTAX":  true,
	"CATALOG": true,
	"BINDER":  true,
}

var (
	kindPrefix  = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*?) Error: ?`)
	lineColumn  = regexp.MustCompile(`(?i)\bline (\d+):(\d+)`)
	lineOnly    = regexp.MustCompile(`\bLINE (\d+)\b`)
	atPosition  = regexp.MustCompile(`(?i)\bat (?:position|line) (\d+)(?:,? (?:column|col) (\d+))?`)
	whitespaces = regexp.MustCompile(`\s+`)
)

// NewDiagnostic builds a diagnostic carrying the backend and category.
func NewDiagnostic(backend Backend, code, category, message string) models.Diagnostic {
	return models.Diagnostic{
		Code:    code,
		Message: message,
		Context: map[string]any{
			"backend":  string(backend),
			"category": category,
		},
	}
}

// Diagnose classifies a driver error into a diagnostic. ctx is the context
// the driver call ran under; its state decides TIMEOUT versus CANCELLED
// regardless of how the driver wrapped the failure.
func Diagnose(ctx context.Context, backend Backend, err error) models.Diagnostic {
	if d, ok := diagnoseContext(ctx, backend, err); ok {
		return d
	}
	if IsConnectionError(err) {
		return NewDiagnostic(backend, CodeConnectionError, CategoryConnection, err.Error())
	}
	return DiagnoseMessage(backend, err.Error())
}

// DiagnoseMessage classifies a driver error message of the form
// "<Kind> Error: <text>", as produced by DuckDB and Trino. Messages without
// such a prefix become EXECUTION_ERROR.
func DiagnoseMessage(backend Backend, msg string) models.Diagnostic {
	msg = strings.TrimSpace(msg)
	code, category, text := CodeExecutionError, CategoryExecution, msg

	if m := kindPrefix.FindStringSubmatch(msg); m != nil {
		kind := strings.ToUpper(whitespaces.ReplaceAllString(strings.TrimSpace(m[1]), "_"))
		code = kind + "_ERROR"
		if compileKinds[kind] {
			category = CategoryCompile
		}
		text = strings.TrimSpace(msg[len(m[0]):])
	}

	d := NewDiagnostic(backend, code, category, text)
	d.Location = ParseLocation(msg)
	return d
}

// ParseLocation extracts a line/column position from a driver message.
// It returns nil when the message carries none.
func ParseLocation(msg string) *models.Location {
	if m := lineColumn.FindStringSubmatch(msg); m != nil {
		return &models.Location{Line: atoi(m[1]), Column: atoi(m[2])}
	}
	if m := lineOnly.FindStringSubmatch(msg); m != nil {
		return &models.Location{Line: atoi(m[1])}
	}
	if m := atPosition.FindStringSubmatch(msg); m != nil {
		loc := &models.Location{Line: atoi(m[1])}
		if m[2] != "" {
			loc.Column = atoi(m[2])
		}
		return loc
	}
	return nil
}

// WithTrace sets the stack trace of d to the chain of wrapped errors.
func WithTrace(d models.Diagnostic, err error) models.Diagnostic {
	var chain []string
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.StackTrace = strings.Join(chain, "\n")
	return d
}

// IsConnectionError reports whether err means the backend could not be
// reached, as opposed to the statement failing.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, driver.ErrBadConn) ||
		stderrors.Is(err, sql.ErrConnDone) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return stderrors.As(err, &dnsErr)
}

func diagnoseContext(ctx context.Context, backend Backend, err error) (models.Diagnostic, bool) {
	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded), stderrors.Is(err, context.DeadlineExceeded):
		return NewDiagnostic(backend, CodeTimeout, CategoryExecution,
			fmt.Sprintf("query exceeded its timeout on %s", backend)), true
	case stderrors.Is(ctx.Err(), context.Canceled), stderrors.Is(err, context.Canceled):
		return NewDiagnostic(backend, CodeCancelled, CategoryExecution,
			"query was cancelled by the caller"), true
	}
	return models.Diagnostic{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
