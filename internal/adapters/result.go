package adapters

import (
	"time"

	"github.com/canonica-labs/meshgate/pkg/models"
)

// QueryResult is the uniform outcome of one Execute call.
//
// Rows is nil when absent. A result with errors never carries rows;
// warnings may accompany rows.
type QueryResult struct {
	Rows     []models.Row
	Errors   []models.Diagnostic
	Warnings []models.Diagnostic

	// Metadata is only populated when the caller asked for debug output.
	Metadata map[string]any
}

// Success builds a result carrying rows. A nil slice is replaced by an
// empty one so that "no rows" stays distinguishable from "no result".
func Success(rows []models.Row, warnings ...models.Diagnostic) *QueryResult {
	if rows == nil {
		rows = []models.Row{}
	}
	return &QueryResult{Rows: rows, Warnings: warnings}
}

// Failure builds a result carrying only errors.
func Failure(diags ...models.Diagnostic) *QueryResult {
	return &QueryResult{Errors: diags}
}

// Failed reports whether the result carries errors.
func (r *QueryResult) Failed() bool {
	return r != nil && len(r.Errors) > 0
}

// HasRows reports whether rows are present, possibly empty.
func (r *QueryResult) HasRows() bool {
	return r != nil && r.Rows != nil
}

// Warn appends a warning.
func (r *QueryResult) Warn(d models.Diagnostic) {
	r.Warnings = append(r.Warnings, d)
}

// Annotate attaches debug metadata. It is a no-op unless opts.Debug is set.
func (r *QueryResult) Annotate(opts ExecOptions, backend Backend, driver string, started time.Time, extra map[string]any) {
	if r == nil || !opts.Debug {
		return
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, 4+len(extra))
	}
	r.Metadata["engine"] = string(backend)
	r.Metadata["driver"] = driver
	r.Metadata["operation"] = string(opts.Mode)
	r.Metadata["elapsed_ms"] = time.Since(started).Milliseconds()
	for k, v := range extra {
		r.Metadata[k] = v
	}
}
