// Package config provides configuration loading for the meshgate server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/canonica-labs/meshgate/internal/errors"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MESHGATE"

// Config holds the application configuration.
type Config struct {
	// Endpoint is the gateway URL used by CLI client commands.
	Endpoint string `mapstructure:"endpoint"`

	Auth    AuthConfig    `mapstructure:"auth"`
	Server  ServerConfig  `mapstructure:"server"`
	MCP     MCPConfig     `mapstructure:"mcp"`
	Logging LoggingConfig `mapstructure:"logging"`

	// QueryTimeout bounds every adapter call. Zero disables the bound.
	QueryTimeout time.Duration `mapstructure:"query_timeout"`

	// MaxRows caps the rows of a query result.
	MaxRows int `mapstructure:"max_rows"`

	Backends BackendsConfig `mapstructure:"backends"`
}

// AuthConfig holds the service credential forwarded to backends that need
// one when the caller supplied none.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigin   string        `mapstructure:"cors_origin"`
	// MountMCP exposes the MCP endpoint on the HTTP server.
	MountMCP bool `mapstructure:"mount_mcp"`
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	// Transport is stdio or http.
	Transport string `mapstructure:"transport"`
	Addr      string `mapstructure:"addr"`
	// ReadOnlySQL rejects run_sql statements that could modify data.
	ReadOnlySQL bool `mapstructure:"read_only_sql"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BackendsConfig holds the per-backend settings.
type BackendsConfig struct {
	Embedded       EmbeddedConfig    `mapstructure:"embedded"`
	DistributedSQL TrinoConfig       `mapstructure:"distributed_sql"`
	Warehouse      WarehouseConfig   `mapstructure:"warehouse"`
	Columnar       ColumnarConfig    `mapstructure:"columnar"`
	OnlineStore    OnlineStoreConfig `mapstructure:"online_store"`
}

// EmbeddedConfig configures the always-registered embedded engine.
type EmbeddedConfig struct {
	// Driver is duckdb or sqlite.
	Driver string `mapstructure:"driver"`
	// Path is the database file; ":memory:" keeps everything in process.
	Path string `mapstructure:"path"`
}

// TrinoConfig holds Trino configuration.
type TrinoConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Catalog string `mapstructure:"catalog"`
	Schema  string `mapstructure:"schema"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Active reports whether the backend should be registered.
func (c TrinoConfig) Active() bool {
	return c.Enabled || c.Host != ""
}

// WarehouseConfig selects and configures the cloud warehouse.
type WarehouseConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Driver is bigquery or snowflake.
	Driver    string          `mapstructure:"driver"`
	BigQuery  BigQueryConfig  `mapstructure:"bigquery"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
}

// Active reports whether the backend should be registered.
func (c WarehouseConfig) Active() bool {
	switch c.Driver {
	case "snowflake":
		return c.Enabled || c.Snowflake.Account != ""
	default:
		return c.Enabled || c.BigQuery.Project != ""
	}
}

// BigQueryConfig holds BigQuery configuration.
type BigQueryConfig struct {
	Project         string `mapstructure:"project"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Location        string `mapstructure:"location"`
	Dataset         string `mapstructure:"dataset"`
}

// SnowflakeConfig holds Snowflake configuration.
type SnowflakeConfig struct {
	Account    string `mapstructure:"account"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	PrivateKey string `mapstructure:"private_key"`
	Database   string `mapstructure:"database"`
	Schema     string `mapstructure:"schema"`
	Warehouse  string `mapstructure:"warehouse"`
	Role       string `mapstructure:"role"`
}

// ColumnarConfig configures the Arrow-backed columnar engine.
type ColumnarConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// OnlineStoreConfig selects and configures the online store.
type OnlineStoreConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Driver is serving or postgres.
	Driver     string         `mapstructure:"driver"`
	ServingURL string         `mapstructure:"serving_url"`
	Token      string         `mapstructure:"token"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// Active reports whether the backend should be registered.
func (c OnlineStoreConfig) Active() bool {
	switch c.Driver {
	case "postgres":
		return c.Enabled || c.Postgres.Host != ""
	default:
		return c.Enabled || c.ServingURL != ""
	}
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// legacyEnv binds the connection variables understood by earlier
// deployments. The MESHGATE_ form always takes precedence.
var legacyEnv = map[string][]string{
	"backends.distributed_sql.host":           {"TRINO_HOST"},
	"backends.distributed_sql.port":           {"TRINO_PORT"},
	"backends.distributed_sql.user":           {"TRINO_USER"},
	"backends.distributed_sql.catalog":        {"TRINO_CATALOG"},
	"backends.distributed_sql.schema":         {"TRINO_SCHEMA"},
	"backends.warehouse.bigquery.project":     {"BIGQUERY_PROJECT"},
	"backends.online_store.serving_url":       {"FEATUREMESH_SERVING_URL"},
	"backends.online_store.token":             {"FEATUREMESH_REGISTRY_TOKEN"},
	"backends.online_store.postgres.host":     {"POSTGRES_HOST"},
	"backends.online_store.postgres.port":     {"POSTGRES_PORT"},
	"backends.online_store.postgres.user":     {"POSTGRES_USER"},
	"backends.online_store.postgres.password": {"POSTGRES_PASSWORD"},
	"backends.online_store.postgres.database": {"POSTGRES_DATABASE", "POSTGRES_DB"},
	"backends.online_store.postgres.ssl_mode": {"DB_SSL_MODE"},
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".meshgate"))
		}
		v.SetConfigName("meshgate")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, names := range legacyEnv {
		primary := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, primary}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("error binding %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "http://localhost:8000")
	v.SetDefault("auth.token", "")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.mount_mcp", true)

	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.addr", ":8001")
	v.SetDefault("mcp.read_only_sql", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("query_timeout", "60s")
	v.SetDefault("max_rows", 10000)

	v.SetDefault("backends.embedded.driver", "duckdb")
	v.SetDefault("backends.embedded.path", ":memory:")

	v.SetDefault("backends.distributed_sql.enabled", false)
	v.SetDefault("backends.distributed_sql.host", "")
	v.SetDefault("backends.distributed_sql.port", 8080)
	v.SetDefault("backends.distributed_sql.user", "meshgate")
	v.SetDefault("backends.distributed_sql.catalog", "memory")
	v.SetDefault("backends.distributed_sql.schema", "default")
	v.SetDefault("backends.distributed_sql.ssl_mode", "disable")

	v.SetDefault("backends.warehouse.enabled", false)
	v.SetDefault("backends.warehouse.driver", "bigquery")
	v.SetDefault("backends.warehouse.bigquery.project", "")
	v.SetDefault("backends.warehouse.bigquery.credentials_file", "")
	v.SetDefault("backends.warehouse.bigquery.location", "")
	v.SetDefault("backends.warehouse.bigquery.dataset", "")
	v.SetDefault("backends.warehouse.snowflake.account", "")
	v.SetDefault("backends.warehouse.snowflake.user", "")
	v.SetDefault("backends.warehouse.snowflake.password", "")
	v.SetDefault("backends.warehouse.snowflake.private_key", "")
	v.SetDefault("backends.warehouse.snowflake.database", "")
	v.SetDefault("backends.warehouse.snowflake.schema", "")
	v.SetDefault("backends.warehouse.snowflake.warehouse", "")
	v.SetDefault("backends.warehouse.snowflake.role", "")

	v.SetDefault("backends.columnar.enabled", true)
	v.SetDefault("backends.columnar.path", ":memory:")

	v.SetDefault("backends.online_store.enabled", false)
	v.SetDefault("backends.online_store.driver", "serving")
	v.SetDefault("backends.online_store.serving_url", "")
	v.SetDefault("backends.online_store.token", "")
	v.SetDefault("backends.online_store.postgres.host", "")
	v.SetDefault("backends.online_store.postgres.port", 5432)
	v.SetDefault("backends.online_store.postgres.user", "")
	v.SetDefault("backends.online_store.postgres.password", "")
	v.SetDefault("backends.online_store.postgres.database", "")
	v.SetDefault("backends.online_store.postgres.ssl_mode", "disable")
}

// Validate reports impossible combinations of settings.
func (c *Config) Validate() error {
	if !oneOf(strings.ToLower(c.Logging.Level), "debug", "info", "warn", "error") {
		return errors.NewInvalidConfig("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	if !oneOf(c.Logging.Format, "json", "text") {
		return errors.NewInvalidConfig("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	if !oneOf(c.MCP.Transport, "stdio", "http") {
		return errors.NewInvalidConfig("mcp.transport", fmt.Sprintf("unknown transport %q", c.MCP.Transport))
	}
	if c.QueryTimeout < 0 {
		return errors.NewInvalidConfig("query_timeout", "must not be negative")
	}
	if c.MaxRows < 0 {
		return errors.NewInvalidConfig("max_rows", "must not be negative")
	}

	b := c.Backends
	if !oneOf(b.Embedded.Driver, "duckdb", "sqlite") {
		return errors.NewInvalidConfig("backends.embedded.driver", fmt.Sprintf("unknown driver %q", b.Embedded.Driver))
	}
	if b.DistributedSQL.Enabled && b.DistributedSQL.Host == "" {
		return errors.NewInvalidConfig("backends.distributed_sql.host", "required when the backend is enabled")
	}

	switch b.Warehouse.Driver {
	case "bigquery":
		if b.Warehouse.Enabled && b.Warehouse.BigQuery.Project == "" {
			return errors.NewInvalidConfig("backends.warehouse.bigquery.project", "required when the backend is enabled")
		}
	case "snowflake":
		if b.Warehouse.Enabled && b.Warehouse.Snowflake.Account == "" {
			return errors.NewInvalidConfig("backends.warehouse.snowflake.account", "required when the backend is enabled")
		}
	default:
		return errors.NewInvalidConfig("backends.warehouse.driver", fmt.Sprintf("unknown driver %q", b.Warehouse.Driver))
	}

	switch b.OnlineStore.Driver {
	case "serving":
		if b.OnlineStore.Enabled && b.OnlineStore.ServingURL == "" {
			return errors.NewInvalidConfig("backends.online_store.serving_url", "required when the backend is enabled")
		}
	case "postgres":
		if b.OnlineStore.Enabled && b.OnlineStore.Postgres.Host == "" {
			return errors.NewInvalidConfig("backends.online_store.postgres.host", "required when the backend is enabled")
		}
	default:
		return errors.NewInvalidConfig("backends.online_store.driver", fmt.Sprintf("unknown driver %q", b.OnlineStore.Driver))
	}
	return nil
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
