// Package gateway routes query requests to backend adapters and normalizes
// their results into the response envelope shared by all transports.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/errors"
	"github.com/canonica-labs/meshgate/internal/observability"
)

// Defaults applied to omitted request fields.
const (
	DefaultBackend   = string(adapters.Embedded)
	DefaultOperation = string(adapters.ModeQuery)
)

// Resolver looks up the adapter for a backend identifier.
// *adapters.Registry implements it.
type Resolver interface {
	Resolve(id string) (adapters.Adapter, error)
}

// Request is one query dispatch.
type Request struct {
	// QueryID identifies the request in logs. Generated when empty.
	QueryID   string
	Text      string
	Backend   string
	Operation string
	Debug     bool
}

// Gateway selects an adapter and invokes it. It holds no per-request state
// and is safe for concurrent use.
type Gateway struct {
	resolver Resolver
	queries  observability.QueryLogger
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithQueryLogger sets the per-dispatch query logger.
func WithQueryLogger(l observability.QueryLogger) Option {
	return func(g *Gateway) { g.queries = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a gateway over resolver.
func New(resolver Resolver, opts ...Option) *Gateway {
	g := &Gateway{
		resolver: resolver,
		queries:  observability.NewNoopLogger(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewQueryID returns a fresh query identifier.
func NewQueryID() string {
	return uuid.NewString()
}

// Dispatch resolves the backend, checks the operation and delegates to the
// adapter. Routing faults come back as diagnostics; the adapter result is
// returned unchanged. Dispatch adds no timeout of its own.
func (g *Gateway) Dispatch(ctx context.Context, req Request) *adapters.QueryResult {
	started := time.Now()
	if req.QueryID == "" {
		req.QueryID = NewQueryID()
	}
	if req.Backend == "" {
		req.Backend = DefaultBackend
	}
	if req.Operation == "" {
		req.Operation = DefaultOperation
	}

	g.logger.Debug("dispatch", "query_id", req.QueryID, "backend", req.Backend,
		"operation", req.Operation, "debug", req.Debug)

	result := g.dispatch(ctx, req)

	g.record(ctx, req, result, time.Since(started))
	return result
}

func (g *Gateway) dispatch(ctx context.Context, req Request) *adapters.QueryResult {
	adapter, err := g.resolver.Resolve(req.Backend)
	if err != nil {
		return adapters.Failure(errors.AsDiagnostic(err))
	}

	mode, ok := adapters.ParseMode(req.Operation)
	if !ok {
		return adapters.Failure(errors.NewUnsupportedOperation(req.Operation).Diagnostic())
	}

	return adapter.Execute(ctx, req.Text, adapters.ExecOptions{Mode: mode, Debug: req.Debug})
}

func (g *Gateway) record(ctx context.Context, req Request, result *adapters.QueryResult, elapsed time.Duration) {
	entry := observability.QueryLogEntry{
		QueryID:       req.QueryID,
		Backend:       req.Backend,
		Operation:     req.Operation,
		Debug:         req.Debug,
		Outcome:       Outcome(result),
		ExecutionTime: elapsed,
	}
	if result != nil {
		for _, d := range result.Errors {
			entry.ErrorCodes = append(entry.ErrorCodes, d.Code)
			g.metrics.ObserveDiagnostic(req.Backend, observability.KindError, d.Code)
		}
		for _, d := range result.Warnings {
			g.metrics.ObserveDiagnostic(req.Backend, observability.KindWarning, d.Code)
		}
		entry.WarningCount = len(result.Warnings)
		entry.RowCount = len(result.Rows)
	}

	g.metrics.ObserveQuery(req.Backend, req.Operation, entry.Outcome, elapsed)
	if err := g.queries.LogQuery(ctx, entry); err != nil {
		g.logger.Error("query log failed", "query_id", req.QueryID, "error", err)
	}
}

// Outcome classifies a result for logs and metrics. A result with neither
// rows nor errors counts as an error.
func Outcome(result *adapters.QueryResult) string {
	switch {
	case result.Failed(), !result.HasRows():
		return observability.OutcomeError
	case len(result.Warnings) > 0:
		return observability.OutcomeWarning
	}
	return observability.OutcomeSuccess
}
