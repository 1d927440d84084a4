// Package duckdb provides the embedded DuckDB adapter.
// The adapter owns exactly one live connection and serializes every
// execution on it, so session state such as temporary tables and SET
// options is shared across requests.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/canonica-labs/meshgate/internal/adapters"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// DriverName is reported by Driver().
const DriverName = "duckdb"

// AdapterConfig configures the DuckDB adapter.
type AdapterConfig struct {
	// DatabasePath is the path to the DuckDB database file.
	// Use ":memory:" for an in-memory database.
	DatabasePath string

	// QueryTimeout bounds each Execute call. Zero disables it.
	QueryTimeout time.Duration

	// MaxRows caps the rows of a query result.
	MaxRows int
}

// Adapter implements adapters.Adapter for DuckDB.
type Adapter struct {
	mu     sync.RWMutex
	db     *sql.DB
	conn   *sql.Conn
	closed bool

	// sem holds the single execution slot of conn.
	sem  chan struct{}
	exec adapters.SQLExecutor
}

// NewAdapter creates a new DuckDB adapter with an in-memory database.
func NewAdapter(ctx context.Context) (*Adapter, error) {
	return NewAdapterWithConfig(ctx, AdapterConfig{DatabasePath: ":memory:"})
}

// NewAdapterWithConfig opens the database and takes its connection.
func NewAdapterWithConfig(ctx context.Context, config AdapterConfig) (*Adapter, error) {
	path := config.DatabasePath
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("DuckDB adapter: failed to open %s: %w", path, err)
	}
	// An in-memory database lives as long as its last connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("DuckDB adapter: failed to connect to %s: %w", path, err)
	}

	return &Adapter{
		db:   db,
		conn: conn,
		sem:  make(chan struct{}, 1),
		exec: adapters.SQLExecutor{
			Backend:       adapters.Embedded,
			Driver:        DriverName,
			ExplainPrefix: "EXPLAIN",
			TranslateTx:   adapters.TxRollback,
			PlanColumns:   []string{"explain_value"},
			Timeout:       config.QueryTimeout,
			MaxRows:       config.MaxRows,
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
// Calls queue on the connection; a caller whose ctx ends while queued gets
// a TIMEOUT or CANCELLED diagnostic without touching the engine.
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
		return fmt.Errorf("DuckDB adapter: health check failed: %w", err)
	}
	return nil
}

// Close releases the connection and the database.
// Close is idempotent - safe to call multiple times.
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
		return nil, nil, fmt.Errorf("DuckDB adapter: %w", sql.ErrConnDone)
	}
	return a.conn, release, nil
}
