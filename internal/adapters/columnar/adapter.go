// Package columnar provides the columnar-engine adapter: a dedicated
// in-memory DuckDB instance whose results are read as Apache Arrow record
// batches and flattened into rows.
//
// Built with the duckdb_arrow tag, batches come straight from DuckDB's
// Arrow interface. Without it, rows are read through database/sql and
// assembled into Arrow records before flattening, so both paths share the
// same conversion.
package columnar

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/statement"
	"github.com/canonica-labs/meshgate/pkg/models"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// DriverName is reported by Driver().
const DriverName = "duckdb-arrow"

// Config configures the columnar adapter.
type Config struct {
	// DatabasePath is the DuckDB database. Default ":memory:".
	DatabasePath string

	// MaxOpenConns bounds concurrent executions. Default 4.
	MaxOpenConns int

	// QueryTimeout bounds each Execute call. Zero disables it.
	QueryTimeout time.Duration

	// MaxRows caps the rows of a query result.
	MaxRows int
}

// Adapter implements adapters.Adapter over DuckDB's Arrow interface.
type Adapter struct {
	mu     sync.RWMutex
	db     *sql.DB
	config Config
	closed bool
}

// NewAdapter opens the columnar database. Each Execute borrows its own
// connection from the pool.
func NewAdapter(config Config) (*Adapter, error) {
	if config.DatabasePath == "" {
		config.DatabasePath = ":memory:"
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.MaxRows <= 0 {
		config.MaxRows = adapters.DefaultMaxRows
	}

	db, err := sql.Open("duckdb", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("columnar adapter: failed to open %s: %w", config.DatabasePath, err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(0)

	return &Adapter{db: db, config: config}, nil
}

// Backend returns the backend identifier.
func (a *Adapter) Backend() adapters.Backend {
	return adapters.Columnar
}

// Driver returns the engine name.
func (a *Adapter) Driver() string {
	return DriverName
}

// Execute runs the statement, or its EXPLAIN in translate mode, and reads
// the result as Arrow record batches.
func (a *Adapter) Execute(ctx context.Context, text string, opts adapters.ExecOptions) *adapters.QueryResult {
	started := time.Now()
	ctx, cancel := adapters.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	info := statement.Classify(text)
	extra := map[string]any{"statement_type": info.Type}

	query := text
	limit := a.config.MaxRows
	translate := opts.Mode == adapters.ModeTranslate
	if translate {
		target, err := statement.ExplainTarget(text)
		if err != nil {
			return adapters.Failure(adapters.NewDiagnostic(adapters.Columnar, adapters.CodeUnsupportedStatement,
				adapters.CategoryCompile, "translate: "+err.Error()))
		}
		query = "EXPLAIN " + target
		limit = 0
	}

	rows, truncated, batches, err := a.read(ctx, query, limit, translate)
	if err != nil {
		d := adapters.Diagnose(ctx, adapters.Columnar, err)
		if opts.Debug {
			d = adapters.WithTrace(d, err)
		}
		return adapters.Failure(d)
	}
	extra["record_batches"] = batches

	var result *adapters.QueryResult
	if opts.Mode == adapters.ModeTranslate {
		plan := adapters.PlanText(rows, "explain_value")
		extra["plan"] = plan
		result = adapters.Success([]models.Row{adapters.TranslateRow(adapters.Columnar, text, info, plan)})
	} else {
		result = adapters.Success(rows)
		if truncated {
			result.Warn(adapters.TruncatedWarning(adapters.Columnar, limit))
		}
		extra["row_count"] = len(rows)
	}

	result.Annotate(opts, adapters.Columnar, DriverName, started, extra)
	return result
}

// read runs query on a pooled connection. With rollback set the query runs
// inside a transaction that is rolled back before the connection returns
// to the pool.
func (a *Adapter) read(ctx context.Context, query string, limit int, rollback bool) ([]models.Row, bool, int, error) {
	a.mu.RLock()
	if a.closed || a.db == nil {
		a.mu.RUnlock()
		return nil, false, 0, fmt.Errorf("columnar adapter: %w", sql.ErrConnDone)
	}
	db := a.db
	a.mu.RUnlock()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, 0, err
	}
	defer conn.Close()

	if rollback {
		if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
			return nil, false, 0, err
		}
		defer conn.ExecContext(context.Background(), "ROLLBACK")
	}

	reader, err := records(ctx, conn, query)
	if err != nil {
		return nil, false, 0, err
	}
	defer reader.Release()

	return flatten(reader, limit)
}

// flatten converts record batches into rows, keeping the schema's column
// order. A positive limit stops after that many rows.
func flatten(reader array.RecordReader, limit int) ([]models.Row, bool, int, error) {
	rows := make([]models.Row, 0)
	batches := 0

	for reader.Next() {
		rec := reader.Record()
		batches++

		columns := make([]string, rec.NumCols())
		for c := range columns {
			columns[c] = rec.ColumnName(c)
		}

		for i := 0; i < int(rec.NumRows()); i++ {
			if limit > 0 && len(rows) == limit {
				return rows, true, batches, nil
			}
			values := make([]any, len(columns))
			for c := range columns {
				values[c] = cellValue(rec.Column(c), i)
			}
			rows = append(rows, models.NewRow(columns, values))
		}
	}

	if err := reader.Err(); err != nil {
		return nil, false, batches, err
	}
	return rows, false, batches, nil
}

func cellValue(col arrow.Array, i int) any {
	if col.IsNull(i) {
		return nil
	}
	switch fc := col.(type) {
	case *array.Float64:
		return adapters.NormalizeValue(fc.Value(i))
	case *array.Float32:
		return adapters.NormalizeValue(fc.Value(i))
	}
	v := col.GetOneForMarshal(i)
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
		return string(raw)
	}
	return adapters.NormalizeValue(v)
}

// Ping checks if the database is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed || a.db == nil {
		return fmt.Errorf("columnar adapter: connection is closed")
	}
	return a.db.PingContext(ctx)
}

// CheckHealth reads a one-row batch through the Arrow path.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	rows, _, _, err := a.read(ctx, "SELECT 1 AS ok", 1, false)
	if err != nil {
		return fmt.Errorf("columnar adapter: health check failed: %w", err)
	}
	if len(rows) != 1 {
		return fmt.Errorf("columnar adapter: health check returned %d rows", len(rows))
	}
	return nil
}

// Close releases the database. Close is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

var _ adapters.Adapter = (*Adapter)(nil)
