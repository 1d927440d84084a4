// Package bootstrap builds the backend registry from configuration and
// checks connectivity at start-up.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/adapters/bigquery"
	"github.com/canonica-labs/meshgate/internal/adapters/columnar"
	"github.com/canonica-labs/meshgate/internal/adapters/duckdb"
	"github.com/canonica-labs/meshgate/internal/adapters/online"
	"github.com/canonica-labs/meshgate/internal/adapters/postgres"
	"github.com/canonica-labs/meshgate/internal/adapters/snowflake"
	"github.com/canonica-labs/meshgate/internal/adapters/sqlite"
	"github.com/canonica-labs/meshgate/internal/adapters/trino"
	"github.com/canonica-labs/meshgate/internal/config"
	"github.com/canonica-labs/meshgate/internal/errors"
)

// BuildRegistry creates every configured adapter. The embedded backend is
// always registered; the others only when their settings are present.
// Construction does not contact remote backends.
func BuildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*adapters.Registry, error) {
	reg := adapters.NewRegistry()

	embedded, err := NewEmbedded(ctx, cfg)
	if err != nil {
		return nil, err
	}
	reg.Register(embedded)

	builders := []struct {
		backend adapters.Backend
		active  bool
		build   func() (adapters.Adapter, error)
	}{
		{adapters.DistributedSQL, cfg.Backends.DistributedSQL.Active(), func() (adapters.Adapter, error) { return newTrino(cfg) }},
		{adapters.Warehouse, cfg.Backends.Warehouse.Active(), func() (adapters.Adapter, error) { return newWarehouse(ctx, cfg, logger) }},
		{adapters.Columnar, cfg.Backends.Columnar.Enabled, func() (adapters.Adapter, error) { return newColumnar(cfg) }},
		{adapters.OnlineStore, cfg.Backends.OnlineStore.Active(), func() (adapters.Adapter, error) { return newOnlineStore(cfg) }},
	}

	for _, b := range builders {
		if !b.active {
			continue
		}
		adapter, err := b.build()
		if err != nil {
			reg.CloseAll()
			return nil, fmt.Errorf("bootstrap: %s: %w", b.backend, err)
		}
		reg.Register(adapter)
		logger.Info("backend registered", "backend", string(b.backend), "driver", adapter.Driver())
	}

	return reg, nil
}

// NewEmbedded opens the embedded engine selected by backends.embedded.driver.
func NewEmbedded(ctx context.Context, cfg *config.Config) (adapters.Adapter, error) {
	e := cfg.Backends.Embedded
	switch e.Driver {
	case "sqlite":
		return sqlite.NewAdapter(ctx, sqlite.AdapterConfig{
			DatabasePath: e.Path,
			QueryTimeout: cfg.QueryTimeout,
			MaxRows:      cfg.MaxRows,
		})
	case "duckdb", "":
		return duckdb.NewAdapterWithConfig(ctx, duckdb.AdapterConfig{
			DatabasePath: e.Path,
			QueryTimeout: cfg.QueryTimeout,
			MaxRows:      cfg.MaxRows,
		})
	}
	return nil, errors.NewInvalidConfig("backends.embedded.driver", fmt.Sprintf("unknown driver %q", e.Driver))
}

func newTrino(cfg *config.Config) (adapters.Adapter, error) {
	t := cfg.Backends.DistributedSQL
	return trino.NewAdapter(trino.AdapterConfig{
		Host:         t.Host,
		Port:         t.Port,
		User:         t.User,
		Catalog:      t.Catalog,
		Schema:       t.Schema,
		SSLMode:      t.SSLMode,
		QueryTimeout: cfg.QueryTimeout,
		MaxRows:      cfg.MaxRows,
	})
}

func newWarehouse(ctx context.Context, cfg *config.Config, logger *slog.Logger) (adapters.Adapter, error) {
	w := cfg.Backends.Warehouse
	if w.Driver == "snowflake" {
		sc := snowflake.DefaultConfig()
		sc.Account = w.Snowflake.Account
		sc.User = w.Snowflake.User
		sc.Password = w.Snowflake.Password
		sc.PrivateKey = w.Snowflake.PrivateKey
		sc.Database = w.Snowflake.Database
		sc.Schema = w.Snowflake.Schema
		sc.Warehouse = w.Snowflake.Warehouse
		sc.Role = w.Snowflake.Role
		sc.QueryTimeout = cfg.QueryTimeout
		sc.MaxRows = cfg.MaxRows
		return snowflake.NewAdapter(sc)
	}

	bc := bigquery.DefaultConfig()
	bc.ProjectID = w.BigQuery.Project
	bc.Location = w.BigQuery.Location
	bc.DefaultDataset = w.BigQuery.Dataset
	bc.QueryTimeout = cfg.QueryTimeout
	bc.MaxRows = cfg.MaxRows
	if w.BigQuery.CredentialsFile != "" {
		data, err := os.ReadFile(w.BigQuery.CredentialsFile)
		if err != nil {
			return nil, errors.NewInvalidConfig("backends.warehouse.bigquery.credentials_file", err.Error())
		}
		bc.CredentialsJSON = string(data)
	}
	if err := bc.Validate(); err != nil {
		return nil, err
	}

	adapter, err := bigquery.NewAdapter(ctx, bc)
	if err != nil {
		// Missing credentials must not take the gateway down; the backend
		// stays registered and reports BACKEND_UNAVAILABLE.
		logger.Warn("warehouse client unavailable", "driver", bigquery.DriverName, "error", err)
		return bigquery.NewAdapterWithoutConnect(bc), nil
	}
	return adapter, nil
}

func newColumnar(cfg *config.Config) (adapters.Adapter, error) {
	return columnar.NewAdapter(columnar.Config{
		DatabasePath: cfg.Backends.Columnar.Path,
		QueryTimeout: cfg.QueryTimeout,
		MaxRows:      cfg.MaxRows,
	})
}

func newOnlineStore(cfg *config.Config) (adapters.Adapter, error) {
	o := cfg.Backends.OnlineStore
	if o.Driver == "postgres" {
		pc := postgres.DefaultConfig()
		pc.Host = o.Postgres.Host
		if o.Postgres.Port != 0 {
			pc.Port = o.Postgres.Port
		}
		pc.User = o.Postgres.User
		pc.Password = o.Postgres.Password
		pc.Database = o.Postgres.Database
		if o.Postgres.SSLMode != "" {
			pc.SSLMode = o.Postgres.SSLMode
		}
		pc.QueryTimeout = cfg.QueryTimeout
		pc.MaxRows = cfg.MaxRows
		return postgres.NewAdapter(pc)
	}

	oc := online.DefaultConfig()
	oc.ServingURL = o.ServingURL
	oc.Token = o.Token
	if oc.Token == "" {
		oc.Token = cfg.Auth.Token
	}
	oc.QueryTimeout = cfg.QueryTimeout
	oc.MaxRows = cfg.MaxRows
	return online.NewAdapter(oc)
}

// CheckConnectivity pings every registered backend with bounded retries.
// An unreachable embedded engine is fatal; other backends are only logged,
// since their failures surface per query as diagnostics.
func CheckConnectivity(ctx context.Context, reg *adapters.Registry, retry adapters.RetryConfig, logger *slog.Logger) error {
	for _, name := range reg.Available() {
		adapter, err := reg.Resolve(name)
		if err != nil {
			return err
		}

		result := adapters.ExecuteWithRetry(ctx, retry, func() error {
			return adapter.Ping(ctx)
		})
		if result.Success {
			logger.Info("backend reachable", "backend", name, "attempts", result.Attempts)
			continue
		}

		if adapter.Backend() == adapters.Embedded {
			return errors.NewBackendUnavailable(name, &adapters.RetryableError{Result: result})
		}
		logger.Warn("backend unreachable", "backend", name, "attempts", result.Attempts, "error", result.LastError)
	}
	return nil
}
