package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/pkg/models"
)

func TestDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "db.internal"
	cfg.Database = "features"
	cfg.User = "reader"
	cfg.Password = "it's secret"

	assert.Equal(t,
		`host=db.internal port=5432 dbname=features user=reader password='it\'s secret' sslmode=disable connect_timeout=10 application_name=meshgate`,
		cfg.DSN())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, cfg.Validate(), "host is required")
	cfg.Host = "h"
	assert.ErrorContains(t, cfg.Validate(), "database is required")
	cfg.Database = "d"
	assert.ErrorContains(t, cfg.Validate(), "user is required")
	cfg.User = "u"
	assert.NoError(t, cfg.Validate())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		category string
		loc      *models.Location
	}{
		{
			name:     "syntax",
			err:      &pq.Error{Code: "42601", Message: `syntax error at or near "garbage"`, Position: "1"},
			code:     "SYNTAX_ERROR",
			category: adapters.CategoryCompile,
			loc:      &models.Location{Offset: 1},
		},
		{
			name:     "undefined table",
			err:      fmt.Errorf("wrapped: %w", &pq.Error{Code: "42P01", Message: `relation "nope" does not exist`, Position: "15"}),
			code:     "CATALOG_ERROR",
			category: adapters.CategoryCompile,
			loc:      &models.Location{Offset: 15},
		},
		{
			name:     "division by zero",
			err:      &pq.Error{Code: "22012", Message: "division by zero"},
			code:     "DIVISION_BY_ZERO",
			category: adapters.CategoryExecution,
		},
		{
			name:     "connection failure",
			err:      &pq.Error{Code: "08006", Message: "connection failure"},
			code:     adapters.CodeConnectionError,
			category: adapters.CategoryConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := classify(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.code, d.Code)
			assert.Equal(t, tt.category, d.Context["category"])
			assert.Equal(t, tt.loc, d.Location)
			assert.Equal(t, "online-store", d.Context["backend"])
		})
	}

	_, ok := classify(errors.New("other"))
	assert.False(t, ok)
}

func TestClosedAdapter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Database, cfg.User = "localhost", "features", "reader"

	a, err := NewAdapter(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	res := a.Execute(context.Background(), "SELECT 1", adapters.ExecOptions{Mode: adapters.ModeQuery})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, adapters.CodeConnectionError, res.Errors[0].Code)
	assert.Error(t, a.Ping(context.Background()))
}

func TestTranslateRejectsBeforeConnecting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port, cfg.Database, cfg.User = "127.0.0.1", 1, "features", "reader"

	a, err := NewAdapter(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	assert.Equal(t, adapters.TxReadOnly, a.exec.TranslateTx)

	translate := adapters.ExecOptions{Mode: adapters.ModeTranslate}
	for _, text := range []string{
		"SELECT 1; DELETE FROM features",
		"ANALYZE DELETE FROM features",
	} {
		res := a.Execute(context.Background(), text, translate)
		require.Len(t, res.Errors, 1, text)
		assert.Equal(t, adapters.CodeUnsupportedStatement, res.Errors[0].Code, text)
	}
}
