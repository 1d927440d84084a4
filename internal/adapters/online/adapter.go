// Package online provides the online-store adapter. It forwards statements
// to a feature serving API over HTTP and maps the JSON response to rows and
// diagnostics.
package online

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/auth"
	"github.com/canonica-labs/meshgate/internal/statement"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// DriverName is reported by Driver().
const DriverName = "serving"

// Serving API paths.
const (
	pathQuery     = "/v1/query"
	pathTranslate = "/v1/translate"
	pathHealth    = "/health"
)

// maxErrorBody bounds how much of a non-JSON error body ends up in a message.
const maxErrorBody = 512

// DefaultMaxResponseBytes bounds a serving API response body.
const DefaultMaxResponseBytes = 64 << 20

// Config configures the serving API client.
type Config struct {
	// ServingURL is the base URL of the serving API.
	ServingURL string

	// Token is the service credential used when the caller supplied none.
	Token string

	QueryTimeout time.Duration

	// MaxRows caps the rows of a query result.
	MaxRows int

	// MaxResponseBytes bounds the response body read from the serving API.
	// Zero means DefaultMaxResponseBytes.
	MaxResponseBytes int64

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		QueryTimeout: 30 * time.Second,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ServingURL == "" {
		return fmt.Errorf("online: serving_url is required")
	}
	u, err := url.Parse(c.ServingURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("online: serving_url %q is not an absolute URL", c.ServingURL)
	}
	return nil
}

// request is the body sent to the serving API.
type request struct {
	Query string `json:"query"`
	Debug bool   `json:"debug,omitempty"`
}

// response is the body returned by the serving API. Rows are positional and
// follow Columns.
type response struct {
	Columns  []string            `json:"columns"`
	Rows     [][]any             `json:"rows"`
	Plan     string              `json:"plan,omitempty"`
	Errors   []models.Diagnostic `json:"errors,omitempty"`
	Warnings []models.Diagnostic `json:"warnings,omitempty"`
}

// Adapter implements adapters.Adapter for the serving API.
type Adapter struct {
	mu      sync.RWMutex
	config  Config
	base    string
	client  *http.Client
	service auth.Credential
	closed  bool
}

// NewAdapter creates a new serving API adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Adapter{
		config:  config,
		base:    strings.TrimRight(config.ServingURL, "/"),
		client:  client,
		service: auth.ServiceCredential(config.Token),
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

// Execute posts the statement to the serving API.
func (a *Adapter) Execute(ctx context.Context, text string, opts adapters.ExecOptions) *adapters.QueryResult {
	started := time.Now()

	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return adapters.Failure(adapters.NewDiagnostic(adapters.OnlineStore,
			adapters.CodeConnectionError, adapters.CategoryConnection, "online: adapter is closed"))
	}

	ctx, cancel := adapters.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	path := pathQuery
	if opts.Mode == adapters.ModeTranslate {
		path = pathTranslate
	}

	resp, err := a.post(ctx, path, request{Query: text, Debug: opts.Debug})
	if err != nil {
		d := a.diagnose(ctx, err)
		if opts.Debug {
			d = adapters.WithTrace(d, err)
		}
		return adapters.Failure(d)
	}

	info := statement.Classify(text)
	extra := map[string]any{"statement_type": info.Type, "serving_url": a.base}

	var result *adapters.QueryResult
	switch {
	case len(resp.Errors) > 0:
		result = adapters.Failure(a.tag(resp.Errors)...)
	case opts.Mode == adapters.ModeTranslate:
		result = adapters.Success([]models.Row{adapters.TranslateRow(adapters.OnlineStore, text, info, resp.Plan)}, a.tag(resp.Warnings)...)
		extra["plan"] = resp.Plan
	default:
		rows, truncated := a.rows(resp)
		result = adapters.Success(rows, a.tag(resp.Warnings)...)
		if truncated {
			result.Warn(adapters.TruncatedWarning(adapters.OnlineStore, a.maxRows()))
		}
		extra["row_count"] = len(rows)
	}

	result.Annotate(opts, adapters.OnlineStore, DriverName, started, extra)
	return result
}

func (a *Adapter) diagnose(ctx context.Context, err error) models.Diagnostic {
	var statusErr *StatusError
	if stderrors.As(err, &statusErr) && ctx.Err() == nil {
		return adapters.NewDiagnostic(adapters.OnlineStore, adapters.CodeBackendUnavailable,
			adapters.CategoryConnection, statusErr.Error())
	}
	return adapters.Diagnose(ctx, adapters.OnlineStore, err)
}

func (a *Adapter) maxRows() int {
	if a.config.MaxRows > 0 {
		return a.config.MaxRows
	}
	return adapters.DefaultMaxRows
}

// rows converts positional rows to ordered row mappings.
func (a *Adapter) rows(resp *response) ([]models.Row, bool) {
	limit := a.maxRows()
	truncated := false
	raw := resp.Rows
	if len(raw) > limit {
		raw, truncated = raw[:limit], true
	}

	out := make([]models.Row, 0, len(raw))
	for _, values := range raw {
		normalized := make([]any, len(resp.Columns))
		for i := range resp.Columns {
			if i < len(values) {
				normalized[i] = adapters.NormalizeValue(convertNumber(values[i]))
			}
		}
		out = append(out, models.NewRow(resp.Columns, normalized))
	}
	return out, truncated
}

// convertNumber turns json.Number into int64 when integral, float64 otherwise.
func convertNumber(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		for i := range val {
			val[i] = convertNumber(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = convertNumber(val[k])
		}
		return val
	}
	return v
}

// tag fills in backend and category on diagnostics reported by the serving API.
func (a *Adapter) tag(diags []models.Diagnostic) []models.Diagnostic {
	for i := range diags {
		if diags[i].Context == nil {
			diags[i].Context = make(map[string]any, 2)
		}
		if _, ok := diags[i].Context["backend"]; !ok {
			diags[i].Context["backend"] = string(adapters.OnlineStore)
		}
		if _, ok := diags[i].Context["category"]; !ok {
			diags[i].Context["category"] = adapters.CategoryExecution
		}
		if diags[i].Code == "" {
			diags[i].Code = adapters.CodeExecutionError
		}
	}
	return diags
}

func (a *Adapter) post(ctx context.Context, path string, body request) (*response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("online: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("online: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cred := auth.Resolve(ctx, a.service); !cred.IsZero() {
		req.Header.Set("Authorization", cred.Header())
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("online: request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := a.config.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("online: failed to read response: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("online: response body exceeds %d bytes", limit)
	}

	var out response
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decodeErr := dec.Decode(&out)

	// The serving API reports query faults as 4xx with a diagnostics body.
	if decodeErr == nil && len(out.Errors) > 0 {
		return &out, nil
	}
	if resp.StatusCode >= 500 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet(data)}
	}
	if resp.StatusCode >= 400 {
		return &response{Errors: []models.Diagnostic{statusDiagnostic(resp.StatusCode, snippet(data))}}, nil
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("online: invalid response body: %w", decodeErr)
	}
	return &out, nil
}

// StatusError is a 5xx response from the serving API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("online: serving API returned %d: %s", e.StatusCode, e.Body)
}

// statusDiagnostic describes a 4xx response that carried no diagnostics.
func statusDiagnostic(status int, body string) models.Diagnostic {
	code, category := "HTTP_"+fmt.Sprint(status), adapters.CategoryExecution
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code, category = "UNAUTHORIZED", adapters.CategoryConnection
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code, category = "INVALID_QUERY", adapters.CategoryCompile
	case http.StatusNotFound:
		code, category = "CATALOG_ERROR", adapters.CategoryCompile
	}
	msg := http.StatusText(status)
	if body != "" {
		msg = body
	}
	return adapters.NewDiagnostic(adapters.OnlineStore, code, category, msg)
}

// snippet trims data to at most maxErrorBody bytes on a rune boundary.
func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Ping checks if the serving API is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("online: adapter is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+pathHealth, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("online: ping failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("online: health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// CheckHealth verifies the adapter is healthy.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	return a.Ping(ctx)
}

// Close marks the adapter closed and drops idle connections.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.client.CloseIdleConnections()
	return nil
}

var _ adapters.Adapter = (*Adapter)(nil)
