package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canonica-labs/meshgate/internal/statement"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// DefaultMaxRows caps the rows returned by a single query.
const DefaultMaxRows = 10000

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxMode selects the transaction translate mode runs its EXPLAIN in.
type TxMode int

const (
	// TxNone runs the EXPLAIN directly, for engines without transactions.
	TxNone TxMode = iota
	// TxRollback runs it in a transaction that is always rolled back.
	TxRollback
	// TxReadOnly runs it in a read-only transaction that is rolled back.
	TxReadOnly
)

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// SQLExecutor runs statements against a database/sql backend. SQL adapters
// embed it and differ only in their explain syntax and error classifier.
type SQLExecutor struct {
	Backend Backend
	Driver  string

	// ExplainPrefix is prepended to the statement in translate mode.
	ExplainPrefix string

	// PlanColumns name the columns of the explain output that carry the
	// plan text. When empty every column is used.
	PlanColumns []string

	// TranslateTx isolates the EXPLAIN from the connection's state.
	TranslateTx TxMode

	// Timeout bounds each Execute call. Zero means no adapter timeout.
	Timeout time.Duration

	// MaxRows caps the rows of a query result. Zero means DefaultMaxRows.
	MaxRows int

	// Classify overrides the generic message classifier for driver errors.
	// It is only consulted after timeouts, cancellation and connection
	// failures have been ruled out.
	Classify func(err error) (models.Diagnostic, bool)
}

// Run executes or translates text on q.
func (e *SQLExecutor) Run(ctx context.Context, q Querier, text string, opts ExecOptions) *QueryResult {
	started := time.Now()
	ctx, cancel := WithTimeout(ctx, e.Timeout)
	defer cancel()

	info := statement.Classify(text)
	extra := map[string]any{"statement_type": info.Type}

	var result *QueryResult
	switch opts.Mode {
	case ModeTranslate:
		target, err := statement.ExplainTarget(text)
		if err != nil {
			result = Failure(NewDiagnostic(e.Backend, CodeUnsupportedStatement, CategoryCompile,
				"translate: "+err.Error()))
			break
		}
		rows, err := e.explain(ctx, q, e.ExplainPrefix+" "+target)
		if err != nil {
			result = Failure(e.Diagnose(ctx, err, opts))
			break
		}
		plan := PlanText(rows, e.PlanColumns...)
		result = Success([]models.Row{TranslateRow(e.Backend, text, info, plan)})
		extra["plan"] = plan
	default:
		rows, truncated, err := e.query(ctx, q, text, e.maxRows())
		if err != nil {
			result = Failure(e.Diagnose(ctx, err, opts))
			break
		}
		result = Success(rows)
		if truncated {
			result.Warn(TruncatedWarning(e.Backend, e.maxRows()))
		}
		extra["row_count"] = len(rows)
	}

	result.Annotate(opts, e.Backend, e.Driver, started, extra)
	return result
}

// Diagnose classifies a driver error for this executor's backend.
func (e *SQLExecutor) Diagnose(ctx context.Context, err error, opts ExecOptions) models.Diagnostic {
	var d models.Diagnostic
	if cd, ok := diagnoseContext(ctx, e.Backend, err); ok {
		d = cd
	} else if IsConnectionError(err) {
		d = NewDiagnostic(e.Backend, CodeConnectionError, CategoryConnection, err.Error())
	} else if e.Classify != nil {
		var ok bool
		if d, ok = e.Classify(err); !ok {
			d = DiagnoseMessage(e.Backend, err.Error())
		}
	} else {
		d = DiagnoseMessage(e.Backend, err.Error())
	}
	if opts.Debug {
		d = WithTrace(d, err)
	}
	return d
}

func (e *SQLExecutor) maxRows() int {
	if e.MaxRows > 0 {
		return e.MaxRows
	}
	return DefaultMaxRows
}

func (e *SQLExecutor) explain(ctx context.Context, q Querier, text string) ([]models.Row, error) {
	b, ok := q.(txBeginner)
	if e.TranslateTx == TxNone || !ok {
		rows, _, err := e.query(ctx, q, text, 0)
		return rows, err
	}

	tx, err := b.BeginTx(ctx, &sql.TxOptions{ReadOnly: e.TranslateTx == TxReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, _, err := e.query(ctx, tx, text, 0)
	return rows, err
}

func (e *SQLExecutor) query(ctx context.Context, q Querier, text string, limit int) ([]models.Row, bool, error) {
	rows, err := q.QueryContext(ctx, text)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	return ScanRows(ctx, rows, limit)
}

// ScanRows reads every row into ordered row mappings. A positive limit
// stops reading after that many rows and reports truncation.
func ScanRows(ctx context.Context, rows *sql.Rows, limit int) ([]models.Row, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get columns: %w", err)
	}

	out := make([]models.Row, 0)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if limit > 0 && len(out) == limit {
			return out, true, nil
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, false, fmt.Errorf("failed to scan row: %w", err)
		}
		for i := range values {
			values[i] = NormalizeValue(values[i])
		}
		out = append(out, models.NewRow(columns, values))
	}

	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return out, false, nil
}

// NormalizeValue converts driver-specific values into JSON-friendly ones.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, time.Time:
		return val
	case []byte:
		return string(val)
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = NormalizeValue(item)
		}
		return out
	case interface{ Float64() float64 }:
		return normalizeFloat(val.Float64())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
			var id uuid.UUID
			reflect.Copy(reflect.ValueOf(id[:]), rv)
			return id.String()
		}
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = NormalizeValue(iter.Value().Interface())
		}
		return out
	}
	return v
}

// Non-finite floats have no JSON encoding.
func normalizeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

// PlanText joins the plan columns of explain output into one string.
func PlanText(rows []models.Row, columns ...string) string {
	var lines []string
	for _, row := range rows {
		if len(columns) == 0 {
			for _, v := range row.Values() {
				if v != nil {
					lines = append(lines, fmt.Sprint(v))
				}
			}
			continue
		}
		for _, col := range columns {
			if v, ok := row.Get(col); ok && v != nil {
				lines = append(lines, fmt.Sprint(v))
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// TranslateRow builds the single row returned by translate mode.
func TranslateRow(backend Backend, text string, info statement.Info, plan string) models.Row {
	row := models.NewRow(
		[]string{"backend", "statement", "statement_type", "plan"},
		[]any{string(backend), strings.TrimSpace(text), info.Type, plan},
	)
	if info.Parsed {
		row.Set("normalized", info.Normalized)
	}
	return row
}

// TruncatedWarning reports that a result was cut at limit rows.
func TruncatedWarning(backend Backend, limit int) models.Diagnostic {
	return NewDiagnostic(backend, CodeResultTruncated, CategoryExecution,
		fmt.Sprintf("result truncated to the first %d rows", limit))
}

// WithTimeout derives a context bounded by d. A non-positive d leaves ctx
// unbounded.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
