// Package adapters defines the common interface for backend adapters.
// Each adapter wraps one execution engine and turns whatever the engine
// returns (rows, compile errors, driver faults) into a QueryResult.
//
// No fault crosses the adapter boundary: Execute never returns an error
// and never panics on a backend failure. Failures are reported as
// diagnostics inside the result.
package adapters

import (
	"context"
	"sort"

	"github.com/canonica-labs/meshgate/internal/errors"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// Backend identifies an execution backend.
type Backend string

const (
	// Embedded is the in-process engine. It is always registered.
	Embedded Backend = "embedded"
	// DistributedSQL is a remote distributed SQL engine (Trino).
	DistributedSQL Backend = "distributed-sql"
	// Warehouse is a cloud data warehouse (BigQuery or Snowflake).
	Warehouse Backend = "warehouse"
	// Columnar is an in-memory columnar engine read through Arrow.
	Columnar Backend = "columnar-engine"
	// OnlineStore is a low-latency online feature store.
	OnlineStore Backend = "online-store"
)

// AllBackends returns every known backend identifier.
func AllBackends() []Backend {
	return []Backend{Embedded, DistributedSQL, Warehouse, Columnar, OnlineStore}
}

// Mode selects between executing a query and only compiling it.
type Mode string

const (
	// ModeQuery executes the statement and returns rows.
	ModeQuery Mode = "query"
	// ModeTranslate compiles or plans the statement without touching data.
	ModeTranslate Mode = "translate"
)

// ParseMode converts an operation name to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeQuery, ModeTranslate:
		return Mode(s), true
	}
	return "", false
}

// ExecOptions are the per-call options passed to Execute.
type ExecOptions struct {
	Mode Mode
	// Debug is a hint: adapters may attach metadata and stack traces.
	Debug bool
}

// Adapter is the interface all backend adapters must implement.
type Adapter interface {
	// Backend returns the identifier this adapter is registered under.
	Backend() Backend

	// Driver names the concrete engine behind the backend (duckdb, trino, ...).
	Driver() string

	// Execute runs or translates one statement. It blocks until the driver
	// returns or ctx is done.
	Execute(ctx context.Context, text string, opts ExecOptions) *QueryResult

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// CheckHealth verifies the adapter can execute queries.
	// Used by /readyz to report per-backend readiness.
	CheckHealth(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// Registry maps backend identifiers to adapters.
// It is filled once at start-up and read-only afterwards.
type Registry struct {
	adapters map[Backend]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[Backend]Adapter),
	}
}

// Register adds an adapter, replacing any adapter with the same backend.
// Must not be called once the registry is shared with request handlers.
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Backend()] = adapter
}

// Resolve returns the adapter registered for id.
func (r *Registry) Resolve(id string) (Adapter, error) {
	adapter, ok := r.adapters[Backend(id)]
	if !ok {
		return nil, errors.NewUnknownBackend(id, r.Available())
	}
	return adapter, nil
}

// Available returns the sorted names of all registered backends.
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.adapters))
	for b := range r.adapters {
		names = append(names, string(b))
	}
	sort.Strings(names)
	return names
}

// Describe lists the registered backends with their drivers.
func (r *Registry) Describe() []models.BackendInfo {
	infos := make([]models.BackendInfo, 0, len(r.adapters))
	for _, name := range r.Available() {
		infos = append(infos, models.BackendInfo{
			Name:   name,
			Driver: r.adapters[Backend(name)].Driver(),
		})
	}
	return infos
}

// CloseAll closes all registered adapters and returns the last error.
func (r *Registry) CloseAll() error {
	var lastErr error
	for _, adapter := range r.adapters {
		if err := adapter.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// CheckAllHealth checks the health of all registered adapters.
// A nil error value indicates the adapter is healthy.
func (r *Registry) CheckAllHealth(ctx context.Context) map[string]error {
	results := make(map[string]error, len(r.adapters))
	for b, adapter := range r.adapters {
		results[string(b)] = adapter.CheckHealth(ctx)
	}
	return results
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}
