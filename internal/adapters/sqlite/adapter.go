// Package sqlite provides a CGO-free embedded adapter on modernc.org/sqlite.
// It is selected with backends.embedded.driver=sqlite and behaves like the
// DuckDB adapter: one live connection, executions serialized on it.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// DriverName is reported by Driver().
const DriverName = "sqlite"

// sqliteError is the primary result code SQLITE_ERROR.
const sqliteError = 1

var codeName = regexp.MustCompile(`\((SQLITE_[A-Z_]+)\)`)

// AdapterConfig configures the SQLite adapter.
type AdapterConfig struct {
	// DatabasePath is the database file. ":memory:" opens a private
	// in-memory database.
	DatabasePath string

	// QueryTimeout bounds each Execute call. Zero disables it.
	QueryTimeout time.Duration

	// MaxRows caps the rows of a query result.
	MaxRows int
}

// Adapter implements adapters.Adapter for SQLite.
type Adapter struct {
	mu     sync.RWMutex
	db     *sql.DB
	conn   *sql.Conn
	closed bool

	sem  chan struct{}
	exec adapters.SQLExecutor
}

// NewAdapter opens the database and takes its connection.
func NewAdapter(ctx context.Context, config AdapterConfig) (*Adapter, error) {
	path := config.DatabasePath
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("SQLite adapter: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("SQLite adapter: failed to connect to %s: %w", path, err)
	}

	return &Adapter{
		db:   db,
		conn: conn,
		sem:  make(chan struct{}, 1),
		exec: adapters.SQLExecutor{
			Backend:       adapters.Embedded,
			Driver:        DriverName,
			ExplainPrefix: "EXPLAIN QUERY PLAN",
			TranslateTx:   adapters.TxRollback,
			PlanColumns:   []string{"detail"},
			Timeout:       config.QueryTimeout,
			MaxRows:       config.MaxRows,
			Classify:      classify,
		},
	}, nil
}

// Backend returns the backend identifier.
func (a *Adapter) Backend() adapters.Backend {
	return adapters.Embedded
}

// Driver returns the engine name.
func (a *Adapter) Driver() string {
	return DriverName
}

// Execute runs or translates one statement on the shared connection.
func (a *Adapter) Execute(ctx context.Context, text string, opts adapters.ExecOptions) *adapters.QueryResult {
	conn, release, err := a.acquire(ctx)
	if err != nil {
		return adapters.Failure(a.exec.Diagnose(ctx, err, opts))
	}
	defer release()

	return a.exec.Run(ctx, conn, text, opts)
}

// Ping checks if the connection is alive.
func (a *Adapter) Ping(ctx context.Context) error {
	conn, release, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return conn.PingContext(ctx)
}

// CheckHealth runs a trivial query on the connection.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	conn, release, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	var one int
	if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("SQLite adapter: health check failed: %w", err)
	}
	return nil
}

// Close releases the connection and the database.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error
	if a.conn != nil {
		firstErr = a.conn.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Adapter) acquire(ctx context.Context) (*sql.Conn, func(), error) {
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	release := func() { <-a.sem }

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || a.conn == nil {
		release()
		return nil, nil, fmt.Errorf("SQLite adapter: %w", sql.ErrConnDone)
	}
	return a.conn, release, nil
}

// classify maps SQLite result codes to diagnostics. Generic SQLITE_ERROR
// failures are split into parser and catalog errors by message.
func classify(err error) (models.Diagnostic, bool) {
	var serr *sqlite.Error
	if !stderrors.As(err, &serr) {
		return models.Diagnostic{}, false
	}

	msg := serr.Error()
	code, category := resultCodeName(serr.Code()), adapters.CategoryExecution
	if serr.Code()&0xff == sqliteError {
		switch {
		case strings.Contains(msg, "syntax error"), strings.Contains(msg, "incomplete input"):
			code, category = "PARSER_ERROR", adapters.CategoryCompile
		case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"),
			strings.Contains(msg, "no such function"):
			code, category = "CATALOG_ERROR", adapters.CategoryCompile
		}
	}

	return adapters.NewDiagnostic(adapters.Embedded, code, category, msg), true
}

func resultCodeName(code int) string {
	if s, ok := sqlite.ErrorCodeString[code]; ok {
		if m := codeName.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	if s, ok := sqlite.ErrorCodeString[code&0xff]; ok {
		if m := codeName.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return fmt.Sprintf("SQLITE_%d", code)
}
