package columnar

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/meshgate/internal/adapters"
)

var query = adapters.ExecOptions{Mode: adapters.ModeQuery}

func newTestAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := NewAdapter(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestExecuteSelect(t *testing.T) {
	a := newTestAdapter(t, Config{})

	res := a.Execute(context.Background(), "SELECT 1 AS n, 'x' AS s, true AS b, NULL AS z", query)
	require.Empty(t, res.Errors)

	out, err := json.Marshal(res.Rows)
	require.NoError(t, err)
	assert.Equal(t, `[{"n":1,"s":"x","b":true,"z":null}]`, string(out))
}

func TestExecuteManyBatches(t *testing.T) {
	a := newTestAdapter(t, Config{})

	res := a.Execute(context.Background(), "SELECT range AS i FROM range(3000)",
		adapters.ExecOptions{Mode: adapters.ModeQuery, Debug: true})
	require.Empty(t, res.Errors)
	require.Len(t, res.Rows, 3000)

	last, _ := res.Rows[2999].Get("i")
	assert.EqualValues(t, 2999, last)
	assert.GreaterOrEqual(t, res.Metadata["record_batches"], 1)
	assert.Equal(t, "duckdb-arrow", res.Metadata["driver"])
}

func TestExecuteTruncates(t *testing.T) {
	a := newTestAdapter(t, Config{MaxRows: 10})

	res := a.Execute(context.Background(), "SELECT range AS i FROM range(100)", query)
	require.Empty(t, res.Errors)
	assert.Len(t, res.Rows, 10)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, adapters.CodeResultTruncated, res.Warnings[0].Code)
}

func TestTranslate(t *testing.T) {
	a := newTestAdapter(t, Config{})

	res := a.Execute(context.Background(), "SELECT 42 AS answer", adapters.ExecOptions{Mode: adapters.ModeTranslate})
	require.Empty(t, res.Errors)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"backend", "statement", "statement_type", "plan", "normalized"}, res.Rows[0].Columns())
	backend, _ := res.Rows[0].Get("backend")
	assert.Equal(t, "columnar-engine", backend)
	plan, _ := res.Rows[0].Get("plan")
	assert.NotEmpty(t, plan)
}

func TestExecuteNestedAndNonFinite(t *testing.T) {
	a := newTestAdapter(t, Config{})

	res := a.Execute(context.Background(),
		"SELECT [1,2,3] AS l, {'k': 1} AS s, MAP {'a': 2} AS m, 'nan'::DOUBLE AS f, 'inf'::DOUBLE AS i", query)
	require.Empty(t, res.Errors)

	out, err := json.Marshal(res.Rows)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"l":[1,2,3],"s":{"k":1},"m":{"a":2},"f":"NaN","i":"Infinity"}]`, string(out))
}

func TestTranslateRejectsWrites(t *testing.T) {
	a := newTestAdapter(t, Config{})
	ctx := context.Background()
	translate := adapters.ExecOptions{Mode: adapters.ModeTranslate}

	res := a.Execute(ctx, "CREATE TABLE t2 (v INTEGER)", query)
	require.Empty(t, res.Errors)

	res = a.Execute(ctx, "SELECT 1; CREATE TABLE side_t AS SELECT 42 AS v", translate)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeUnsupportedStatement, res.Errors[0].Code)

	res = a.Execute(ctx, "ANALYZE INSERT INTO t2 VALUES (1)", translate)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeUnsupportedStatement, res.Errors[0].Code)

	res = a.Execute(ctx, "INSERT INTO t2 VALUES (1)", translate)
	require.Empty(t, res.Errors)

	res = a.Execute(ctx, "SELECT count(*) AS n FROM t2", query)
	require.Empty(t, res.Errors)
	n, _ := res.Rows[0].Get("n")
	assert.EqualValues(t, 0, n)

	res = a.Execute(ctx, "SELECT * FROM side_t", query)
	assert.Len(t, res.Errors, 1)
}

func TestExecuteParserError(t *testing.T) {
	a := newTestAdapter(t, Config{})

	res := a.Execute(context.Background(), "garbage sql", query)
	require.Len(t, res.Errors, 1)
	assert.Nil(t, res.Rows)
	assert.Equal(t, "PARSER_ERROR", res.Errors[0].Code)
	assert.Equal(t, "columnar-engine", res.Errors[0].Context["backend"])
}

func TestHealthAndClose(t *testing.T) {
	a := newTestAdapter(t, Config{})
	require.NoError(t, a.Ping(context.Background()))
	require.NoError(t, a.CheckHealth(context.Background()))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Error(t, a.CheckHealth(context.Background()))

	res := a.Execute(context.Background(), "SELECT 1", query)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeConnectionError, res.Errors[0].Code)
}
