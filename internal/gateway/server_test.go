package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/adapters/duckdb"
	"github.com/canonica-labs/meshgate/internal/auth"
	"github.com/canonica-labs/meshgate/internal/observability"
	"github.com/canonica-labs/meshgate/pkg/models"
)

func newTestServer(t *testing.T, config ServerConfig, extra ...adapters.Adapter) (*Server, *adapters.Registry) {
	t.Helper()

	embedded, err := duckdb.NewAdapter(context.Background())
	require.NoError(t, err)

	reg := adapters.NewRegistry()
	reg.Register(embedded)
	for _, a := range extra {
		reg.Register(a)
	}
	t.Cleanup(func() { reg.CloseAll() })

	logger := observability.NewLogger(&bytes.Buffer{}, "error", "json")
	gw := New(reg, WithLogger(logger))
	return NewServer(gw, reg, config, logger), reg
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","server":"meshgate"}`, w.Body.String())
}

func TestRunQuerySelectOne(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	w := do(t, s, http.MethodPost, "/run_query", `{"query":"SELECT 1 AS n","backend":"embedded"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":[{"n":1}]}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Query-ID"))
}

func TestRunQueryParserError(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	w := do(t, s, http.MethodPost, "/run_query", `{"query":"garbage sql","backend":"embedded"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	var env map[string][]models.Diagnostic
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env["errors"], 1)
	assert.Equal(t, "PARSER_ERROR", env["errors"][0].Code)
	assert.NotEmpty(t, env["errors"][0].Message)
	assert.NotContains(t, w.Body.String(), `"result"`)
}

func TestRunQueryUnknownBackend(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	w := do(t, s, http.MethodPost, "/run_query", `{"query":"SELECT 1","backend":"nonexistent"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"errors":[{"code":"UNSUPPORTED_BACKEND","message":"Unsupported backend: nonexistent"}]}`, w.Body.String())
}

func TestRunQueryTranslateAndDebug(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	w := do(t, s, http.MethodPost, "/run_query", `{"query":"SELECT 1 AS n","operation":"translate","debug_mode":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Result, 1)
	plan, _ := env.Result[0].Get("plan")
	assert.NotEmpty(t, plan)
	assert.Equal(t, "embedded", env.Metadata["engine"])
}

func TestRunQueryBadRequests(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	for _, body := range []string{`{"query":`, `{}`, `{"query":"   "}`, ``} {
		w := do(t, s, http.MethodPost, "/run_query", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Detail)
	}
}

func TestRunQueryPanicIsTransportFault(t *testing.T) {
	panicky := newFake(adapters.Warehouse, func(string, adapters.ExecOptions) *adapters.QueryResult {
		panic("driver exploded")
	})
	s, _ := newTestServer(t, ServerConfig{}, panicky)

	w := do(t, s, http.MethodPost, "/run_query", `{"query":"SELECT 1","backend":"warehouse"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail":"internal server error"}`, w.Body.String())
}

func TestRunQueryForwardsCredential(t *testing.T) {
	var seen auth.Credential
	online := newFake(adapters.OnlineStore, nil)
	online.result = func(string, adapters.ExecOptions) *adapters.QueryResult {
		seen, _ = auth.CredentialFromContext(online.lastCtx)
		return adapters.Success(nil)
	}
	s, _ := newTestServer(t, ServerConfig{}, online)

	w := do(t, s, http.MethodPost, "/run_query", `{"query":"SELECT 1","backend":"online-store"}`,
		"Authorization", "Bearer caller-token", "X-Request-ID", "req-42")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "caller-token", seen.Token)
	assert.Equal(t, "req-42", w.Header().Get("X-Query-ID"))
}

func TestBackendsAndReadiness(t *testing.T) {
	down := newFake(adapters.DistributedSQL, rowsResult)
	down.healthy = errors.New("connection refused")
	s, _ := newTestServer(t, ServerConfig{}, down)

	w := do(t, s, http.MethodGet, "/backends", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"backends":[{"name":"distributed-sql","driver":"fake"},{"name":"embedded","driver":"duckdb"}]}`, w.Body.String())

	w = do(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var ready models.ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.False(t, ready.Ready)
	assert.True(t, ready.Backends["embedded"].Ready)
	assert.Equal(t, "connection refused", ready.Backends["distributed-sql"].Message)
}

func TestReadinessAllHealthy(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	w := do(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	w := do(t, s, http.MethodOptions, "/run_query", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg).ObserveQuery("embedded", "query", "success", 0)

	s, _ := newTestServer(t, ServerConfig{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	w := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "meshgate_queries_total")

	s, _ = newTestServer(t, ServerConfig{})
	w = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
