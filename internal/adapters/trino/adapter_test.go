package trino

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	trinodb "github.com/trinodb/trino-go-client/trino"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/pkg/models"
)

func TestDSN(t *testing.T) {
	cfg := AdapterConfig{Host: "trino.internal"}
	cfg.applyDefaults()
	assert.Equal(t, "http://meshgate@trino.internal:8080?catalog=memory&schema=default&source=meshgate", cfg.DSN())

	cfg.SSLMode = "require"
	cfg.Port = 8443
	cfg.Catalog = "hive"
	assert.Equal(t, "https://meshgate@trino.internal:8443?catalog=hive&schema=default&source=meshgate", cfg.DSN())
}

func TestNewAdapterRequiresHost(t *testing.T) {
	_, err := NewAdapter(AdapterConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is not configured")
}

func TestClosedAdapterReportsConnectionError(t *testing.T) {
	a, err := NewAdapter(AdapterConfig{Host: "localhost"})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	res := a.Execute(context.Background(), "SELECT 1", adapters.ExecOptions{Mode: adapters.ModeQuery})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeConnectionError, res.Errors[0].Code)
	assert.Equal(t, "distributed-sql", res.Errors[0].Context["backend"])
	assert.Error(t, a.Ping(context.Background()))
	assert.Error(t, a.CheckHealth(context.Background()))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		code string
		text string
		loc  *models.Location
	}{
		{
			name: "syntax",
			msg:  `trino: query failed (200 OK): "io.trino.spi.TrinoException: line 1:1: mismatched input 'garbage'. Expecting: 'SELECT'"`,
			code: "SYNTAX_ERROR",
			text: "line 1:1: mismatched input 'garbage'. Expecting: 'SELECT'",
			loc:  &models.Location{Line: 1, Column: 1},
		},
		{
			name: "missing table",
			msg:  "line 1:15: Table 'memory.default.nope' does not exist",
			code: "CATALOG_ERROR",
			text: "line 1:15: Table 'memory.default.nope' does not exist",
			loc:  &models.Location{Line: 1, Column: 15},
		},
		{
			name: "runtime",
			msg:  "Division by zero",
			code: adapters.CodeExecutionError,
			text: "Division by zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := classify(errors.New(tt.msg))
			require.True(t, ok)
			assert.Equal(t, tt.code, d.Code)
			assert.Equal(t, tt.text, d.Message)
			assert.Equal(t, tt.loc, d.Location)
		})
	}
}

func TestClassifyStructuredError(t *testing.T) {
	err := &trinodb.ErrQueryFailed{
		StatusCode: 200,
		Reason: &trinodb.ErrTrino{
			Message:       "line 3:8: Table 'memory.default.nope' does not exist",
			ErrorName:     "TABLE_NOT_FOUND",
			ErrorType:     "USER_ERROR",
			ErrorLocation: trinodb.ErrorLocation{LineNumber: 3, ColumnNumber: 8},
		},
	}

	d, ok := classify(err)
	require.True(t, ok)
	assert.Equal(t, "TABLE_NOT_FOUND", d.Code)
	assert.Equal(t, "line 3:8: Table 'memory.default.nope' does not exist", d.Message)
	assert.Equal(t, adapters.CategoryCompile, d.Context["category"])
	assert.Equal(t, "USER_ERROR", d.Context["error_type"])
	assert.Equal(t, &models.Location{Line: 3, Column: 8}, d.Location)

	d, ok = classify(&trinodb.ErrQueryFailed{Reason: &trinodb.ErrTrino{
		Message:   "Division by zero",
		ErrorName: "DIVISION_BY_ZERO",
		ErrorType: "USER_ERROR",
	}})
	require.True(t, ok)
	assert.Equal(t, "DIVISION_BY_ZERO", d.Code)
	assert.Equal(t, adapters.CategoryExecution, d.Context["category"])
	assert.Nil(t, d.Location)
}
