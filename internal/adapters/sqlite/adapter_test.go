package sqlite

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/meshgate/internal/adapters"
)

var query = adapters.ExecOptions{Mode: adapters.ModeQuery}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewAdapter(context.Background(), AdapterConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestExecuteSelect(t *testing.T) {
	a := newTestAdapter(t)

	res := a.Execute(context.Background(), "SELECT 1 AS n, 'x' AS s", query)
	require.Empty(t, res.Errors)

	out, err := json.Marshal(res.Rows)
	require.NoError(t, err)
	assert.Equal(t, `[{"n":1,"s":"x"}]`, string(out))
}

func TestExecuteErrors(t *testing.T) {
	a := newTestAdapter(t)

	tests := []struct {
		name string
		text string
		code string
	}{
		{"syntax", "garbage sql", "PARSER_ERROR"},
		{"missing table", "SELECT * FROM nowhere", "CATALOG_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Execute(context.Background(), tt.text, query)
			require.Len(t, res.Errors, 1)
			assert.Nil(t, res.Rows)
			assert.Equal(t, tt.code, res.Errors[0].Code)
			assert.Equal(t, adapters.CategoryCompile, res.Errors[0].Context["category"])
		})
	}
}

func TestTranslateReturnsQueryPlan(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	require.Empty(t, a.Execute(ctx, "CREATE TABLE t (a INTEGER)", query).Errors)

	res := a.Execute(ctx, "SELECT a FROM t WHERE a > 1", adapters.ExecOptions{Mode: adapters.ModeTranslate})
	require.Empty(t, res.Errors)
	require.Len(t, res.Rows, 1)
	plan, _ := res.Rows[0].Get("plan")
	assert.Contains(t, plan, "t")
	normalized, ok := res.Rows[0].Get("normalized")
	assert.True(t, ok)
	assert.Equal(t, "select a from t where a > 1", normalized)
}

func TestTranslateRejectsStatementLists(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	translate := adapters.ExecOptions{Mode: adapters.ModeTranslate}

	res := a.Execute(ctx, "SELECT 1; CREATE TABLE side_t (v INTEGER)", translate)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeUnsupportedStatement, res.Errors[0].Code)

	res = a.Execute(ctx, "SELECT name FROM sqlite_master WHERE name = 'side_t'", query)
	require.Empty(t, res.Errors)
	assert.Empty(t, res.Rows)
}

func TestResultCodeName(t *testing.T) {
	assert.Equal(t, "SQLITE_ERROR", resultCodeName(1))
	assert.Equal(t, "SQLITE_BUSY", resultCodeName(5))
	assert.Equal(t, "SQLITE_99999", resultCodeName(99999))
}
