// Package snowflake provides the warehouse adapter on Snowflake.
// It is selected with backends.warehouse.driver=snowflake.
package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// DriverName is reported by Driver().
const DriverName = "snowflake"

var positionInLine = regexp.MustCompile(`line (\d+) at position (\d+)`)

// Config configures the Snowflake adapter.
type Config struct {
	// Account is the Snowflake account identifier.
	// Format: <account>.<region>.snowflakecomputing.com
	Account string

	// User is the Snowflake username.
	User string

	// Password for basic auth (or use key-pair).
	Password string

	// PrivateKey for key-pair authentication (PEM format).
	PrivateKey string

	// Database is the default database.
	Database string

	// Schema is the default schema.
	Schema string

	// Warehouse is the compute warehouse.
	Warehouse string

	// Role is the Snowflake role.
	Role string

	// Connection settings
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// MaxRows caps the rows of a query result.
	MaxRows int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		QueryTimeout:   5 * time.Minute,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Account == "" {
		return fmt.Errorf("snowflake: account is required")
	}
	if c.User == "" {
		return fmt.Errorf("snowflake: user is required")
	}
	if c.Password == "" && c.PrivateKey == "" {
		return fmt.Errorf("snowflake: password or private_key is required")
	}
	if c.Warehouse == "" {
		return fmt.Errorf("snowflake: warehouse is required")
	}
	return nil
}

// DSN builds the gosnowflake connection string.
func (c Config) DSN() (string, error) {
	sf := &gosnowflake.Config{
		Account:      c.Account,
		User:         c.User,
		Password:     c.Password,
		Database:     c.Database,
		Schema:       c.Schema,
		Warehouse:    c.Warehouse,
		Role:         c.Role,
		LoginTimeout: c.ConnectTimeout,
		Application:  "meshgate",
	}
	if c.PrivateKey != "" {
		key, err := parsePrivateKey(c.PrivateKey)
		if err != nil {
			return "", err
		}
		sf.Authenticator = gosnowflake.AuthTypeJwt
		sf.PrivateKey = key
		sf.Password = ""
	}
	return gosnowflake.DSN(sf)
}

func parsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("snowflake: private_key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("snowflake: invalid private_key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("snowflake: private_key must be an RSA key")
	}
	return key, nil
}

// Adapter implements adapters.Adapter for Snowflake.
type Adapter struct {
	mu     sync.RWMutex
	config Config
	db     *sql.DB
	closed bool
	exec   adapters.SQLExecutor
}

// NewAdapter creates a new Snowflake adapter. The connection pool is opened
// lazily; connectivity is checked by Ping.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dsn, err := config.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("snowflake: failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	a := NewAdapterWithoutConnect(config)
	a.db = db
	return a, nil
}

// NewAdapterWithoutConnect creates a Snowflake adapter without a connection.
// Every Execute reports a connection error.
func NewAdapterWithoutConnect(config Config) *Adapter {
	return &Adapter{
		config: config,
		exec: adapters.SQLExecutor{
			Backend:       adapters.Warehouse,
			Driver:        DriverName,
			ExplainPrefix: "EXPLAIN USING TEXT",
			TranslateTx:   adapters.TxRollback,
			Timeout:       config.QueryTimeout,
			MaxRows:       config.MaxRows,
			Classify:      classify,
		},
	}
}

// Backend returns the backend identifier.
func (a *Adapter) Backend() adapters.Backend {
	return adapters.Warehouse
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
		return adapters.Failure(a.exec.Diagnose(ctx, fmt.Errorf("snowflake: %w", sql.ErrConnDone), opts))
	}

	result := a.exec.Run(ctx, a.db, text, opts)
	if opts.Debug && result.Metadata != nil {
		result.Metadata["account"] = a.config.Account
		result.Metadata["warehouse"] = a.config.Warehouse
	}
	return result
}

// classify maps Snowflake error numbers to diagnostics. SQL compilation
// errors (SQLSTATE class 42) never ran.
func classify(err error) (models.Diagnostic, bool) {
	var sfErr *gosnowflake.SnowflakeError
	if !stderrors.As(err, &sfErr) {
		return models.Diagnostic{}, false
	}

	msg := strings.TrimSpace(sfErr.Message)
	code := fmt.Sprintf("SNOWFLAKE_%06d", sfErr.Number)
	category := adapters.CategoryExecution
	if strings.HasPrefix(sfErr.SQLState, "42") || strings.HasPrefix(msg, "SQL compilation error") {
		category = adapters.CategoryCompile
	}

	d := adapters.NewDiagnostic(adapters.Warehouse, code, category, msg)
	if sfErr.SQLState != "" {
		d.Context["sqlstate"] = sfErr.SQLState
	}
	if sfErr.QueryID != "" {
		d.Context["query_id"] = sfErr.QueryID
	}
	if m := positionInLine.FindStringSubmatch(msg); m != nil {
		d.Location = adapters.ParseLocation(fmt.Sprintf("line %s:%d", m[1], atoi(m[2])+1))
	}
	return d, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Ping checks if Snowflake is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return fmt.Errorf("snowflake: adapter is closed")
	}
	if a.db == nil {
		return fmt.Errorf("snowflake: connection not available")
	}

	ctx, cancel := adapters.WithTimeout(ctx, a.config.ConnectTimeout)
	defer cancel()
	return a.db.PingContext(ctx)
}

// CheckHealth verifies the adapter is healthy.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return fmt.Errorf("snowflake: adapter is closed")
	}
	if a.db == nil {
		return fmt.Errorf("snowflake: connection not available")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("snowflake: health check failed: %w", err)
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
