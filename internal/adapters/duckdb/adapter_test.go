package duckdb

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/meshgate/internal/adapters"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewAdapter(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

var query = adapters.ExecOptions{Mode: adapters.ModeQuery}

func TestExecuteSelect(t *testing.T) {
	a := newTestAdapter(t)

	res := a.Execute(context.Background(), "SELECT 1 AS n", query)
	require.Empty(t, res.Errors)

	out, err := json.Marshal(res.Rows)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"n":1}]`, string(out))
	assert.Nil(t, res.Metadata)
}

func TestExecutePreservesColumnOrder(t *testing.T) {
	a := newTestAdapter(t)

	res := a.Execute(context.Background(), "SELECT 'x' AS z, 2 AS b, NULL AS a", query)
	require.Empty(t, res.Errors)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"z", "b", "a"}, res.Rows[0].Columns())

	out, err := json.Marshal(res.Rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"z":"x","b":2,"a":null}`, string(out))
}

func TestExecuteParserError(t *testing.T) {
	a := newTestAdapter(t)

	res := a.Execute(context.Background(), "garbage sql", query)
	require.Len(t, res.Errors, 1)
	assert.Nil(t, res.Rows)

	d := res.Errors[0]
	assert.Equal(t, "PARSER_ERROR", d.Code)
	assert.NotEmpty(t, d.Message)
	assert.Equal(t, adapters.CategoryCompile, d.Context["category"])
	assert.Empty(t, d.StackTrace)
}

func TestExecuteDebugAddsTraceAndMetadata(t *testing.T) {
	a := newTestAdapter(t)
	debug := adapters.ExecOptions{Mode: adapters.ModeQuery, Debug: true}

	res := a.Execute(context.Background(), "SELECT * FROM missing_table", debug)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "CATALOG_ERROR", res.Errors[0].Code)
	assert.NotEmpty(t, res.Errors[0].StackTrace)

	res = a.Execute(context.Background(), "SELECT 1 AS n", debug)
	require.Empty(t, res.Errors)
	assert.Equal(t, "duckdb", res.Metadata["driver"])
	assert.Equal(t, "SELECT", res.Metadata["statement_type"])
}

func TestTranslateDoesNotExecute(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.Empty(t, a.Execute(ctx, "CREATE TABLE t (a INTEGER)", query).Errors)

	res := a.Execute(ctx, "INSERT INTO t VALUES (1)", adapters.ExecOptions{Mode: adapters.ModeTranslate})
	require.Empty(t, res.Errors)
	require.Len(t, res.Rows, 1)
	plan, _ := res.Rows[0].Get("plan")
	assert.NotEmpty(t, plan)
	kind, _ := res.Rows[0].Get("statement_type")
	assert.Equal(t, "INSERT", kind)

	translate := adapters.ExecOptions{Mode: adapters.ModeTranslate}
	res = a.Execute(ctx, "SELECT 1; CREATE TABLE side_t AS SELECT 42 AS v", translate)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeUnsupportedStatement, res.Errors[0].Code)
	assert.Equal(t, adapters.CategoryCompile, res.Errors[0].Context["category"])

	res = a.Execute(ctx, "ANALYZE INSERT INTO t VALUES (2)", translate)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeUnsupportedStatement, res.Errors[0].Code)

	res = a.Execute(ctx, "INSERT INTO t VALUES (3);", translate)
	require.Empty(t, res.Errors)

	count := a.Execute(ctx, "SELECT count(*) AS c FROM t", query)
	require.Empty(t, count.Errors)
	c, _ := count.Rows[0].Get("c")
	assert.EqualValues(t, 0, c)

	missing := a.Execute(ctx, "SELECT * FROM side_t", query)
	require.Len(t, missing.Errors, 1)
	assert.Equal(t, "CATALOG_ERROR", missing.Errors[0].Code)
}

func TestSessionStateIsShared(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.Empty(t, a.Execute(ctx, "CREATE TEMP TABLE scratch AS SELECT 42 AS v", query).Errors)

	res := a.Execute(ctx, "SELECT v FROM scratch", query)
	require.Empty(t, res.Errors)
	v, _ := res.Rows[0].Get("v")
	assert.EqualValues(t, 42, v)
}

func TestConcurrentExecutionsAreSerialized(t *testing.T) {
	a := newTestAdapter(t)

	var wg sync.WaitGroup
	results := make([]*adapters.QueryResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Execute(context.Background(), "SELECT range AS i FROM range(100)", query)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.Empty(t, res.Errors)
		assert.Len(t, res.Rows, 100)
	}
}

func TestExecuteCancelled(t *testing.T) {
	a := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := a.Execute(ctx, "SELECT 1", query)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeCancelled, res.Errors[0].Code)
}

func TestClosedAdapter(t *testing.T) {
	a := newTestAdapter(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	res := a.Execute(context.Background(), "SELECT 1", query)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeConnectionError, res.Errors[0].Code)
	assert.Error(t, a.CheckHealth(context.Background()))
}

func TestHealth(t *testing.T) {
	a := newTestAdapter(t)
	assert.NoError(t, a.Ping(context.Background()))
	assert.NoError(t, a.CheckHealth(context.Background()))
	assert.Equal(t, adapters.Embedded, a.Backend())
	assert.Equal(t, "duckdb", a.Driver())
}
