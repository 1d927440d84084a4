// Package bigquery provides the warehouse adapter on Google BigQuery.
// Queries run as BigQuery jobs; translate issues a dry-run job that
// validates the statement and estimates bytes processed without reading
// any data.
package bigquery

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/statement"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// DriverName is reported by Driver().
const DriverName = "bigquery"

var bracketLocation = regexp.MustCompile(`at \[(\d+):(\d+)\]`)

// Config configures the BigQuery adapter.
type Config struct {
	// ProjectID is the GCP project ID.
	ProjectID string

	// CredentialsJSON is the service account key (optional if using ADC).
	CredentialsJSON string

	// Location is the BigQuery region (e.g., "US", "EU").
	Location string

	// DefaultDataset is the default dataset for unqualified tables.
	DefaultDataset string

	// QueryTimeout for query execution.
	QueryTimeout time.Duration

	// MaxRows caps the rows of a query result.
	MaxRows int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Location:     "US",
		QueryTimeout: 5 * time.Minute,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("bigquery: project_id is required")
	}
	return nil
}

// Adapter implements adapters.Adapter for BigQuery.
type Adapter struct {
	mu     sync.RWMutex
	config Config
	client *bigquery.Client
	closed bool
}

// NewAdapter creates a new BigQuery adapter.
func NewAdapter(ctx context.Context, config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if config.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	}
	// Without credentials the SDK falls back to Application Default Credentials.

	client, err := bigquery.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: failed to create client: %w", err)
	}

	return &Adapter{
		config: config,
		client: client,
	}, nil
}

// NewAdapterWithoutConnect creates a BigQuery adapter without a client.
// Every Execute reports BACKEND_UNAVAILABLE.
func NewAdapterWithoutConnect(config Config) *Adapter {
	return &Adapter{config: config}
}

// Backend returns the backend identifier.
func (a *Adapter) Backend() adapters.Backend {
	return adapters.Warehouse
}

// Driver returns the engine name.
func (a *Adapter) Driver() string {
	return DriverName
}

// Execute runs the statement as a query job, or as a dry run in translate mode.
func (a *Adapter) Execute(ctx context.Context, text string, opts adapters.ExecOptions) *adapters.QueryResult {
	started := time.Now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed || a.client == nil {
		d := adapters.NewDiagnostic(adapters.Warehouse, adapters.CodeBackendUnavailable,
			adapters.CategoryConnection, "bigquery: client not available")
		return adapters.Failure(d)
	}

	ctx, cancel := adapters.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	info := statement.Classify(text)
	extra := map[string]any{
		"statement_type": info.Type,
		"project":        a.config.ProjectID,
		"location":       a.config.Location,
	}

	var result *adapters.QueryResult
	if opts.Mode == adapters.ModeTranslate {
		result = a.dryRun(ctx, text, info, opts, extra)
	} else {
		result = a.run(ctx, text, opts, extra)
	}
	result.Annotate(opts, adapters.Warehouse, DriverName, started, extra)
	return result
}

func (a *Adapter) query(text string) *bigquery.Query {
	q := a.client.Query(text)
	if a.config.DefaultDataset != "" {
		q.DefaultDatasetID = a.config.DefaultDataset
	}
	if a.config.Location != "" {
		q.Location = a.config.Location
	}
	return q
}

func (a *Adapter) dryRun(ctx context.Context, text string, info statement.Info, opts adapters.ExecOptions, extra map[string]any) *adapters.QueryResult {
	q := a.query(text)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return adapters.Failure(a.diagnose(ctx, err, opts))
	}
	status := job.LastStatus()
	if status == nil {
		return adapters.Failure(adapters.NewDiagnostic(adapters.Warehouse, adapters.CodeExecutionError,
			adapters.CategoryExecution, "bigquery: dry run returned no job status"))
	}
	if err := status.Err(); err != nil {
		return adapters.Failure(a.diagnose(ctx, err, opts))
	}

	var bytes int64
	if status.Statistics != nil {
		bytes = status.Statistics.TotalBytesProcessed
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok && qs.StatementType != "" {
			info.Type = qs.StatementType
		}
	}
	plan := fmt.Sprintf("dry run: %d bytes would be processed", bytes)
	extra["total_bytes_processed"] = bytes

	row := adapters.TranslateRow(adapters.Warehouse, text, info, plan)
	row.Set("total_bytes_processed", bytes)
	return adapters.Success([]models.Row{row})
}

func (a *Adapter) run(ctx context.Context, text string, opts adapters.ExecOptions, extra map[string]any) *adapters.QueryResult {
	it, err := a.query(text).Read(ctx)
	if err != nil {
		return adapters.Failure(a.diagnose(ctx, err, opts))
	}

	limit := a.config.MaxRows
	if limit <= 0 {
		limit = adapters.DefaultMaxRows
	}

	rows := make([]models.Row, 0)
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return adapters.Failure(a.diagnose(ctx, err, opts))
		}
		if len(rows) == limit {
			result := adapters.Success(rows)
			result.Warn(adapters.TruncatedWarning(adapters.Warehouse, limit))
			return result
		}
		rows = append(rows, recordRow(it.Schema, values))
	}

	extra["row_count"] = len(rows)
	return adapters.Success(rows)
}

// recordRow converts one BigQuery record into an ordered row. Nested
// RECORD fields become nested rows.
func recordRow(schema bigquery.Schema, values []bigquery.Value) models.Row {
	columns := make([]string, len(values))
	converted := make([]any, len(values))
	for i, v := range values {
		var field *bigquery.FieldSchema
		if i < len(schema) {
			field = schema[i]
			columns[i] = field.Name
		} else {
			columns[i] = fmt.Sprintf("f%d_", i)
		}
		converted[i] = convertValue(field, v)
	}
	return models.NewRow(columns, converted)
}

func convertValue(field *bigquery.FieldSchema, v bigquery.Value) any {
	switch val := v.(type) {
	case nil:
		return nil
	case *big.Rat:
		if field != nil && field.Type == bigquery.BigNumericFieldType {
			return bigquery.BigNumericString(val)
		}
		return bigquery.NumericString(val)
	case []bigquery.Value:
		if field != nil && field.Type == bigquery.RecordFieldType && !field.Repeated {
			return recordRow(field.Schema, val)
		}
		out := make([]any, len(val))
		elem := field
		if field != nil && field.Repeated {
			elem = &bigquery.FieldSchema{Name: field.Name, Type: field.Type, Schema: field.Schema}
		}
		for i, item := range val {
			out[i] = convertValue(elem, item)
		}
		return out
	}
	return adapters.NormalizeValue(v)
}

// diagnose classifies BigQuery API and job errors. Reasons such as
// invalidQuery and notFound mean the statement never ran.
func (a *Adapter) diagnose(ctx context.Context, err error, opts adapters.ExecOptions) models.Diagnostic {
	d, ok := classify(err)
	if !ok {
		d = adapters.Diagnose(ctx, adapters.Warehouse, err)
	} else if ctx.Err() != nil {
		d = adapters.Diagnose(ctx, adapters.Warehouse, err)
	}
	if opts.Debug {
		d = adapters.WithTrace(d, err)
	}
	return d
}

func classify(err error) (models.Diagnostic, bool) {
	var reason, message string

	var apiErr *googleapi.Error
	var jobErr *bigquery.Error
	switch {
	case stderrors.As(err, &jobErr):
		reason, message = jobErr.Reason, jobErr.Message
	case stderrors.As(err, &apiErr):
		message = apiErr.Message
		if len(apiErr.Errors) > 0 {
			reason = apiErr.Errors[0].Reason
			if message == "" {
				message = apiErr.Errors[0].Message
			}
		}
		if reason == "" && apiErr.Code >= 500 {
			reason = "backendError"
		}
	default:
		return models.Diagnostic{}, false
	}

	code, category := reasonCode(reason), adapters.CategoryExecution
	switch reason {
	case "invalidQuery", "invalid":
		category = adapters.CategoryCompile
		if strings.HasPrefix(message, "Syntax error") {
			code = "SYNTAX_ERROR"
		}
	case "notFound":
		code, category = "CATALOG_ERROR", adapters.CategoryCompile
	case "backendError", "internalError":
		code, category = adapters.CodeBackendUnavailable, adapters.CategoryConnection
	case "":
		code = adapters.CodeExecutionError
	}

	d := adapters.NewDiagnostic(adapters.Warehouse, code, category, message)
	if m := bracketLocation.FindStringSubmatch(message); m != nil {
		d.Location = adapters.ParseLocation(fmt.Sprintf("line %s:%s", m[1], m[2]))
	}
	return d, true
}

// reasonCode turns a camelCase API reason into an upper snake case code.
func reasonCode(reason string) string {
	var b strings.Builder
	for i, r := range reason {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Ping checks if BigQuery is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return fmt.Errorf("bigquery: adapter is closed")
	}
	if a.client == nil {
		return fmt.Errorf("bigquery: client not available")
	}

	q := a.client.Query("SELECT 1")
	q.DryRun = true
	if _, err := q.Run(ctx); err != nil {
		return fmt.Errorf("bigquery: ping failed: %w", err)
	}
	return nil
}

// CheckHealth verifies the adapter can run a query.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return fmt.Errorf("bigquery: adapter is closed")
	}
	if a.client == nil {
		return fmt.Errorf("bigquery: client not available")
	}

	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	it, err := a.client.Query("SELECT 1").Read(healthCtx)
	if err != nil {
		return fmt.Errorf("bigquery: health check failed: %w", err)
	}

	var row []bigquery.Value
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return fmt.Errorf("bigquery: health check read failed: %w", err)
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
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

var _ adapters.Adapter = (*Adapter)(nil)
