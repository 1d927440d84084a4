// Package observability provides structured logging and metrics for the
// meshgate gateway.
//
// Every dispatch emits exactly one query log entry: query_id, backend,
// operation, outcome, diagnostic codes and execution time.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Query outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeWarning = "warning"
	OutcomeError   = "error"
)

// NewLogger creates the process logger. format is json or text; level is
// debug, info, warn or error.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel converts a level name to a slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// QueryLogEntry contains all required fields for query logging.
type QueryLogEntry struct {
	// QueryID is the unique identifier for this query.
	QueryID string

	Backend   string
	Operation string
	Debug     bool

	// Outcome is success, warning or error.
	Outcome string

	// ErrorCodes are the codes of the errors in the result, in order.
	ErrorCodes []string

	WarningCount int
	RowCount     int

	// ExecutionTime must be non-negative.
	ExecutionTime time.Duration
}

// Validate checks that all required fields are present.
func (e *QueryLogEntry) Validate() error {
	if e.QueryID == "" {
		return fmt.Errorf("observability: query_id is required")
	}
	if e.Backend == "" {
		return fmt.Errorf("observability: backend is required")
	}
	switch e.Outcome {
	case OutcomeSuccess, OutcomeWarning, OutcomeError:
	default:
		return fmt.Errorf("observability: unknown outcome %q", e.Outcome)
	}
	if e.ExecutionTime < 0 {
		return fmt.Errorf("observability: execution_time cannot be negative")
	}
	return nil
}

// QueryLogger is the interface for query logging.
type QueryLogger interface {
	// LogQuery logs a query execution event.
	// Returns an error if logging fails or the entry is invalid.
	LogQuery(ctx context.Context, entry QueryLogEntry) error
}

// SlogQueryLogger implements QueryLogger on a slog.Logger.
type SlogQueryLogger struct {
	logger *slog.Logger
}

// NewSlogQueryLogger creates a query logger writing through logger.
func NewSlogQueryLogger(logger *slog.Logger) *SlogQueryLogger {
	return &SlogQueryLogger{logger: logger}
}

// LogQuery logs entry at info level, or warn when the query failed.
func (l *SlogQueryLogger) LogQuery(ctx context.Context, entry QueryLogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if entry.Outcome == OutcomeError {
		level = slog.LevelWarn
	}

	codes := entry.ErrorCodes
	if codes == nil {
		codes = []string{}
	}

	l.logger.LogAttrs(ctx, level, "query",
		slog.String("query_id", entry.QueryID),
		slog.String("backend", entry.Backend),
		slog.String("operation", entry.Operation),
		slog.Bool("debug", entry.Debug),
		slog.String("outcome", entry.Outcome),
		slog.Any("error_codes", codes),
		slog.Int("warning_count", entry.WarningCount),
		slog.Int("row_count", entry.RowCount),
		slog.Int64("execution_time_ms", entry.ExecutionTime.Milliseconds()),
	)
	return nil
}

// NoopLogger is a logger that discards all logs.
// Useful for testing or when logging is disabled.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// LogQuery does nothing and always succeeds.
func (l *NoopLogger) LogQuery(ctx context.Context, entry QueryLogEntry) error {
	return nil
}

var (
	_ QueryLogger = (*SlogQueryLogger)(nil)
	_ QueryLogger = (*NoopLogger)(nil)
)
