package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/meshgate/pkg/api"
	"github.com/canonica-labs/meshgate/pkg/models"
)

const testConfig = `
logging:
  level: error
backends:
  embedded:
    driver: duckdb
    path: ":memory:"
  columnar:
    enabled: false
`

type runResult struct {
	code   int
	stdout string
	stderr string
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func run(t *testing.T, endpoint string, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	c := newCLI(strings.NewReader(""), &stdout, &stderr)
	full := append([]string{"--config", writeConfig(t), "--endpoint", endpoint}, args...)
	code := c.ExecuteArgs(full)
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// gatewayStub answers /run_query with a fixed envelope and records the
// last request.
type gatewayStub struct {
	status   int
	body     string
	lastReq  models.QueryRequest
	lastAuth string
}

func (g *gatewayStub) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(api.EndpointRunQuery, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.lastAuth = r.Header.Get(api.HeaderAuthorization)
		_ = json.NewDecoder(r.Body).Decode(&g.lastReq)
		status := g.status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set(api.HeaderContentType, api.ContentTypeJSON)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(g.body))
	})
	mux.HandleFunc(api.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","server":"meshgate"}`))
	})
	mux.HandleFunc(api.EndpointBackends, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"backends":[{"name":"embedded","driver":"duckdb"},{"name":"warehouse","driver":"bigquery"}]}`))
	})
	mux.HandleFunc(api.EndpointReady, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ready":false,"version":"9.9.9","backends":{"embedded":{"ready":true,"message":"ok"},"warehouse":{"ready":false,"message":"bigquery: client not available"}}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryExecText(t *testing.T) {
	stub := &gatewayStub{body: `{"result":[{"n":1,"s":"x"}]}`}
	srv := stub.start(t)

	res := run(t, srv.URL, "--token", "s3cret", "query", "exec", "SELECT 1 AS n, 'x' AS s")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	assert.Equal(t, "Bearer s3cret", stub.lastAuth)
	assert.Equal(t, models.QueryRequest{
		Query:     "SELECT 1 AS n, 'x' AS s",
		Backend:   "embedded",
		Operation: "query",
	}, stub.lastReq)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"n", "s"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "x"}, strings.Fields(lines[1]))
	assert.Equal(t, "(1 row)", lines[2])
}

func TestQueryExecJSON(t *testing.T) {
	stub := &gatewayStub{body: `{"result":[{"b":2,"a":1}],"warnings":[{"code":"RESULT_TRUNCATED","message":"cut"}]}`}
	srv := stub.start(t)

	res := run(t, srv.URL, "--output", "json", "query", "exec", "SELECT 2 AS b, 1 AS a")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.JSONEq(t, `{"result":[{"b":2,"a":1}],"warnings":[{"code":"RESULT_TRUNCATED","message":"cut"}]}`, res.stdout)
	assert.Less(t, strings.Index(res.stdout, `"b"`), strings.Index(res.stdout, `"a"`))
}

func TestQueryTranslateFlags(t *testing.T) {
	stub := &gatewayStub{body: `{"result":[{"backend":"warehouse","statement":"SELECT 1","statement_type":"SELECT","plan":"..."}]}`}
	srv := stub.start(t)

	res := run(t, srv.URL, "query", "translate", "--backend", "warehouse", "--debug-mode", "SELECT 1")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "translate", stub.lastReq.Operation)
	assert.Equal(t, "warehouse", stub.lastReq.Backend)
	assert.True(t, stub.lastReq.DebugMode)
	assert.Empty(t, stub.lastAuth)
}

func TestGlobalDebugImpliesDebugMode(t *testing.T) {
	stub := &gatewayStub{body: `{"result":[]}`}
	srv := stub.start(t)

	res := run(t, srv.URL, "--debug", "query", "exec", "SELECT 1")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.True(t, stub.lastReq.DebugMode)
	assert.Contains(t, res.stdout, "(0 rows)")
	assert.Contains(t, res.stderr, "[DEBUG] POST")
}

func TestQueryFailedEnvelope(t *testing.T) {
	stub := &gatewayStub{body: `{"errors":[{"code":"PARSER_ERROR","message":"syntax error at or near \"garbage\"","location":{"line":1,"column":1}}]}`}
	srv := stub.start(t)

	res := run(t, srv.URL, "query", "exec", "garbage sql")
	assert.Equal(t, ExitEngine, res.code)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, `✗ PARSER_ERROR: syntax error at or near "garbage" (line 1, column 1)`)
}

func TestQueryFailedEnvelopeStructured(t *testing.T) {
	stub := &gatewayStub{body: `{"errors":[{"code":"UNSUPPORTED_BACKEND","message":"Unsupported backend: nope"}]}`}
	srv := stub.start(t)

	res := run(t, srv.URL, "-o", "yaml", "query", "exec", "--backend", "nope", "SELECT 1")
	assert.Equal(t, ExitEngine, res.code)
	assert.Contains(t, res.stdout, "code: UNSUPPORTED_BACKEND")
	assert.NotContains(t, res.stdout, "result:")
}

func TestQueryRejectedByGateway(t *testing.T) {
	stub := &gatewayStub{status: http.StatusBadRequest, body: `{"detail":"query must not be empty"}`}
	srv := stub.start(t)

	res := run(t, srv.URL, "query", "exec", "SELECT 1")
	assert.Equal(t, ExitValidation, res.code)
	assert.Contains(t, res.stderr, "query must not be empty")
}

func TestQueryEmptyText(t *testing.T) {
	stub := &gatewayStub{body: `{"result":[]}`}
	srv := stub.start(t)

	res := run(t, srv.URL, "query", "exec", "   ")
	assert.Equal(t, ExitValidation, res.code)
	assert.Empty(t, stub.lastReq.Query)
}

func TestGatewayUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := run(t, url, "query", "exec", "SELECT 1")
	assert.Equal(t, ExitInternal, res.code)
	assert.Contains(t, res.stderr, "gateway unavailable")
}

func TestBackends(t *testing.T) {
	srv := (&gatewayStub{}).start(t)

	res := run(t, srv.URL, "backends")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "BACKEND")
	assert.Contains(t, res.stdout, "warehouse")
	assert.Contains(t, res.stdout, "bigquery")

	res = run(t, srv.URL, "--output", "yaml", "backends")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "- name: embedded")
	assert.Contains(t, res.stdout, "driver: duckdb")
}

func TestStatusNotReady(t *testing.T) {
	srv := (&gatewayStub{}).start(t)

	res := run(t, srv.URL, "status")
	assert.Equal(t, ExitEngine, res.code)
	assert.Contains(t, res.stdout, "Gateway: not ready (version 9.9.9)")
	assert.Contains(t, res.stdout, "✓ embedded")
	assert.Contains(t, res.stdout, "✗ warehouse")
	assert.Contains(t, res.stderr, "backends not ready: warehouse")
}

func TestVersionJSON(t *testing.T) {
	srv := (&gatewayStub{}).start(t)

	res := run(t, srv.URL, "--output", "json", "version")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	var out struct {
		Version string `json:"version"`
		Server  struct {
			Version string `json:"version"`
			Status  string `json:"status"`
		} `json:"server"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, Version, out.Version)
	assert.Equal(t, "9.9.9", out.Server.Version)
	assert.Equal(t, "not ready", out.Server.Status)
}

func TestUnknownOutputFormat(t *testing.T) {
	res := run(t, "http://localhost:1", "--output", "xml", "backends")
	assert.Equal(t, ExitValidation, res.code)
	assert.Contains(t, res.stderr, "output")
}

func TestDoctor(t *testing.T) {
	srv := (&gatewayStub{}).start(t)

	res := run(t, srv.URL, "doctor")
	require.Equal(t, ExitSuccess, res.code, res.stdout+res.stderr)
	assert.Contains(t, res.stdout, "✓ config")
	assert.Contains(t, res.stdout, "✓ backend embedded")
	assert.Contains(t, res.stdout, "meshgate healthy at "+srv.URL)
	assert.Contains(t, res.stdout, "All checks passed")
}

func TestDoctorGatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := run(t, url, "--output", "json", "doctor")
	assert.Equal(t, ExitEngine, res.code)

	var out struct {
		Checks    []DiagnosticCheck `json:"checks"`
		AllPassed bool              `json:"all_passed"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.False(t, out.AllPassed)
	last := out.Checks[len(out.Checks)-1]
	assert.Equal(t, "gateway", last.Name)
	assert.False(t, last.Passed)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "abc", formatValue("abc"))
	assert.Equal(t, "1.5", formatValue(1.5))
	assert.Equal(t, `["a","b"]`, formatValue([]any{"a", "b"}))
	assert.Equal(t, `{"k":1}`, formatValue(map[string]any{"k": 1}))
}
