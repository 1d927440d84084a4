// Package postgres provides an online-store adapter over PostgreSQL, for
// deployments that materialise online features into Postgres tables.
// It is selected with backends.online_store.driver=postgres.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// DriverName is reported by Driver().
const DriverName = "postgres"

// Config configures the PostgreSQL adapter.
type Config struct {
	// Host is the database host.
	Host string

	// Port is the database port (default 5432).
	Port int

	// Database is the database name.
	Database string

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// SSLMode controls SSL: disable, require, verify-ca, verify-full
	SSLMode string

	// Connection settings
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// MaxRows caps the rows of a query result.
	MaxRows int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Port:           5432,
		SSLMode:        "disable",
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   30 * time.Second,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("postgres: host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("postgres: database is required")
	}
	if c.User == "" {
		return fmt.Errorf("postgres: user is required")
	}
	return nil
}

// DSN builds a lib/pq key=value connection string.
func (c Config) DSN() string {
	parts := []string{
		"host=" + quote(c.Host),
		"port=" + strconv.Itoa(c.Port),
		"dbname=" + quote(c.Database),
		"user=" + quote(c.User),
	}
	if c.Password != "" {
		parts = append(parts, "password="+quote(c.Password))
	}
	if c.SSLMode != "" {
		parts = append(parts, "sslmode="+quote(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		parts = append(parts, "connect_timeout="+strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	parts = append(parts, "application_name=meshgate")
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Adapter implements adapters.Adapter for PostgreSQL.
type Adapter struct {
	mu     sync.RWMutex
	config Config
	db     *sql.DB
	closed bool
	exec   adapters.SQLExecutor
}

// NewAdapter creates a new PostgreSQL adapter. The pool connects lazily.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Adapter{
		config: config,
		db:     db,
		exec: adapters.SQLExecutor{
			Backend:       adapters.OnlineStore,
			Driver:        DriverName,
			ExplainPrefix: "EXPLAIN",
			TranslateTx:   adapters.TxReadOnly,
			PlanColumns:   []string{"QUERY PLAN"},
			Timeout:       config.QueryTimeout,
			MaxRows:       config.MaxRows,
			Classify:      classify,
		},
	}, nil
}

// Backend returns the backend identifier.
func (a *Adapter) Backend() adapters.Backend {
	return adapters.OnlineStore
}

// Driver returns the engine name.
func (a *Adapter) Driver() string {
	return DriverName
}

// Execute runs or translates one statement on a pooled connection.
func (a *Adapter) Execute(ctx context.Context, text string, opts adapters.ExecOptions) *adapters.QueryResult {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed || a.db == nil {
		return adapters.Failure(a.exec.Diagnose(ctx, fmt.Errorf("postgres: %w", sql.ErrConnDone), opts))
	}
	return a.exec.Run(ctx, a.db, text, opts)
}

// classify maps SQLSTATE codes to diagnostics. Class 42 (syntax error or
// access rule violation) never ran; class 08 is a connection failure.
func classify(err error) (models.Diagnostic, bool) {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return models.Diagnostic{}, false
	}

	code := strings.ToUpper(pqErr.Code.Name())
	if code == "" {
		code = "SQLSTATE_" + string(pqErr.Code)
	}
	category := adapters.CategoryExecution

	switch pqErr.Code.Class() {
	case "42":
		category = adapters.CategoryCompile
		switch pqErr.Code {
		case "42601":
			code = "SYNTAX_ERROR"
		case "42P01", "42703", "42883", "3F000":
			code = "CATALOG_ERROR"
		}
	case "08":
		category = adapters.CategoryConnection
		code = adapters.CodeConnectionError
	}

	d := adapters.NewDiagnostic(adapters.OnlineStore, code, category, pqErr.Message)
	d.Context["sqlstate"] = string(pqErr.Code)
	if pqErr.Detail != "" {
		d.Context["detail"] = pqErr.Detail
	}
	if pqErr.Hint != "" {
		d.Context["hint"] = pqErr.Hint
	}
	if pos, err := strconv.Atoi(pqErr.Position); err == nil && pos > 0 {
		d.Location = &models.Location{Offset: pos}
	}
	return d, true
}

// Ping checks if PostgreSQL is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed || a.db == nil {
		return fmt.Errorf("postgres: adapter is closed")
	}

	ctx, cancel := adapters.WithTimeout(ctx, a.config.ConnectTimeout)
	defer cancel()
	return a.db.PingContext(ctx)
}

// CheckHealth verifies the adapter can run a query.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed || a.db == nil {
		return fmt.Errorf("postgres: adapter is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

// Close releases resources held by the adapter.
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
