// Package trino provides the distributed-sql adapter on Trino.
// Connections are pooled by database/sql; every request borrows one for the
// duration of its query.
package trino

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	trinodb "github.com/trinodb/trino-go-client/trino"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// DriverName is reported by Driver().
const DriverName = "trino"

// Adapter implements adapters.Adapter for Trino.
type Adapter struct {
	mu     sync.RWMutex
	db     *sql.DB
	config AdapterConfig
	closed bool
	exec   adapters.SQLExecutor
}

// AdapterConfig configures the Trino adapter.
type AdapterConfig struct {
	// Host is the Trino coordinator hostname.
	Host string

	// Port is the Trino coordinator port.
	Port int

	// Catalog is the default Trino catalog.
	Catalog string

	// Schema is the default Trino schema.
	Schema string

	// User is the Trino user for queries.
	User string

	// SSLMode controls SSL/TLS: "", "disable", "require"
	SSLMode string

	// MaxOpenConns is the maximum number of open connections. Default: 10.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections. Default: 5.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection. Default: 5 minutes.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum idle time of a connection. Default: 1 minute.
	ConnMaxIdleTime time.Duration

	// ConnectTimeout bounds health checks. Default: 10 seconds.
	ConnectTimeout time.Duration

	// QueryTimeout bounds each Execute call. Default: 5 minutes.
	QueryTimeout time.Duration

	// MaxRows caps the rows of a query result.
	MaxRows int
}

// DSN builds the trino-go-client connection string.
// Format: http[s]://user@host:port?catalog=X&schema=Y&source=meshgate
func (c AdapterConfig) DSN() string {
	scheme := "http"
	if c.SSLMode == "require" {
		scheme = "https"
	}
	q := url.Values{}
	q.Set("catalog", c.Catalog)
	q.Set("schema", c.Schema)
	q.Set("source", "meshgate")

	u := url.URL{
		Scheme:   scheme,
		User:     url.User(c.User),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (c *AdapterConfig) applyDefaults() {
	if c.User == "" {
		c.User = "meshgate"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Catalog == "" {
		c.Catalog = "memory"
	}
	if c.Schema == "" {
		c.Schema = "default"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Minute
	}
}

// NewAdapter creates a new Trino adapter. No connection is made until the
// first query or health check.
func NewAdapter(config AdapterConfig) (*Adapter, error) {
	config.applyDefaults()
	if config.Host == "" {
		return nil, fmt.Errorf("Trino adapter: host is not configured")
	}

	db, err := sql.Open("trino", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("Trino adapter: failed to open: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return &Adapter{
		db:     db,
		config: config,
		exec: adapters.SQLExecutor{
			Backend:       adapters.DistributedSQL,
			Driver:        DriverName,
			ExplainPrefix: "EXPLAIN",
			PlanColumns:   []string{"Query Plan"},
			Timeout:       config.QueryTimeout,
			MaxRows:       config.MaxRows,
			Classify:      classify,
		},
	}, nil
}

// Backend returns the backend identifier.
func (a *Adapter) Backend() adapters.Backend {
	return adapters.DistributedSQL
}

// Driver returns the engine name.
func (a *Adapter) Driver() string {
	return DriverName
}

// Execute runs or translates one statement on a pooled connection.
func (a *Adapter) Execute(ctx context.Context, text string, opts adapters.ExecOptions) *adapters.QueryResult {
	a.mu.RLock()
	if a.closed || a.db == nil {
		a.mu.RUnlock()
		return adapters.Failure(a.exec.Diagnose(ctx, fmt.Errorf("Trino adapter: %w", sql.ErrConnDone), opts))
	}
	db := a.db
	a.mu.RUnlock()

	result := a.exec.Run(ctx, db, text, opts)
	if opts.Debug && result.Metadata != nil {
		result.Metadata["catalog"] = a.config.Catalog
		result.Metadata["schema"] = a.config.Schema
	}
	return result
}

// Ping checks if Trino is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed || a.db == nil {
		return fmt.Errorf("Trino adapter: connection is closed")
	}

	return a.db.PingContext(ctx)
}

// Close releases any resources held by the adapter.
// Close is idempotent - safe to call multiple times.
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

// CheckHealth validates the connection by executing SELECT 1.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed || a.db == nil {
		return fmt.Errorf("Trino adapter: connection is closed")
	}

	healthCtx, cancel := context.WithTimeout(ctx, a.config.ConnectTimeout)
	defer cancel()

	var result int
	if err := a.db.QueryRowContext(healthCtx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("Trino adapter health check failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("Trino adapter health check: unexpected result %d", result)
	}
	return nil
}

// analysisErrors are Trino error names raised before a query runs.
var analysisErrors = map[string]bool{
	"SYNTAX_ERROR":             true,
	"CATALOG_NOT_FOUND":        true,
	"SCHEMA_NOT_FOUND":         true,
	"TABLE_NOT_FOUND":          true,
	"COLUMN_NOT_FOUND":         true,
	"FUNCTION_NOT_FOUND":       true,
	"MISSING_CATALOG_NAME":     true,
	"MISSING_SCHEMA_NAME":      true,
	"AMBIGUOUS_NAME":           true,
	"TYPE_MISMATCH":            true,
	"INVALID_LITERAL":          true,
	"INVALID_COLUMN_REFERENCE": true,
	"NOT_SUPPORTED":            true,
	"PERMISSION_DENIED":        true,
}

// classify maps Trino's structured error to a diagnostic: the error name
// becomes the code and the error location the diagnostic location. Errors
// without one fall back to matching the message, whose "line N:M:" prefix
// gives the location.
func classify(err error) (models.Diagnostic, bool) {
	var te *trinodb.ErrTrino
	if errors.As(err, &te) && te.ErrorName != "" {
		return classifyTrino(te), true
	}

	msg := unwrapQueryFailed(err.Error())

	code, category := adapters.CodeExecutionError, adapters.CategoryExecution
	switch {
	case containsAny(msg, "mismatched input", "extraneous input", "no viable alternative", "Syntax error"):
		code, category = "SYNTAX_ERROR", adapters.CategoryCompile
	case containsAny(msg, "does not exist", "cannot be resolved", "not found"):
		code, category = "CATALOG_ERROR", adapters.CategoryCompile
	case containsAny(msg, "Cannot apply operator", "Unexpected parameters", "must be of type"):
		code, category = "BINDER_ERROR", adapters.CategoryCompile
	case containsAny(msg, "Query exceeded"):
		code = "EXCEEDED_LIMIT_ERROR"
	}

	d := adapters.NewDiagnostic(adapters.DistributedSQL, code, category, msg)
	d.Location = adapters.ParseLocation(msg)
	return d, true
}

func classifyTrino(te *trinodb.ErrTrino) models.Diagnostic {
	category := adapters.CategoryExecution
	if te.ErrorType == "USER_ERROR" && analysisErrors[te.ErrorName] {
		category = adapters.CategoryCompile
	}

	d := adapters.NewDiagnostic(adapters.DistributedSQL, te.ErrorName, category, te.Message)
	d.Context["error_type"] = te.ErrorType
	if te.SqlState != "" {
		d.Context["sql_state"] = te.SqlState
	}
	if loc := te.ErrorLocation; loc.LineNumber > 0 {
		d.Location = &models.Location{Line: loc.LineNumber, Column: loc.ColumnNumber}
	}
	return d
}

// unwrapQueryFailed strips the driver's `trino: query failed (...): "<msg>"`
// wrapper and the Java exception class prefix.
func unwrapQueryFailed(msg string) string {
	if i := strings.Index(msg, `): "`); i != -1 && strings.HasPrefix(msg, "trino:") {
		if inner, err := strconv.Unquote(msg[i+3:]); err == nil {
			msg = inner
		}
	}
	if i := strings.Index(msg, "Exception: "); i != -1 && !strings.Contains(msg[:i], " ") {
		msg = msg[i+len("Exception: "):]
	}
	return strings.TrimSpace(msg)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
