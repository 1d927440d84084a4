package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntry() QueryLogEntry {
	return QueryLogEntry{
		QueryID:       "q-1",
		Backend:       "embedded",
		Operation:     "query",
		Outcome:       OutcomeError,
		ErrorCodes:    []string{"PARSER_ERROR"},
		ExecutionTime: 12 * time.Millisecond,
	}
}

func TestQueryLogEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*QueryLogEntry)
		wantErr string
	}{
		{"valid", func(*QueryLogEntry) {}, ""},
		{"missing id", func(e *QueryLogEntry) { e.QueryID = "" }, "query_id is required"},
		{"missing backend", func(e *QueryLogEntry) { e.Backend = "" }, "backend is required"},
		{"bad outcome", func(e *QueryLogEntry) { e.Outcome = "meh" }, "unknown outcome"},
		{"negative time", func(e *QueryLogEntry) { e.ExecutionTime = -1 }, "cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntry()
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSlogQueryLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogQueryLogger(NewLogger(&buf, "info", "json"))

	require.NoError(t, logger.LogQuery(context.Background(), validEntry()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "query", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "q-1", line["query_id"])
	assert.Equal(t, "embedded", line["backend"])
	assert.Equal(t, []any{"PARSER_ERROR"}, line["error_codes"])
	assert.EqualValues(t, 12, line["execution_time_ms"])

	bad := validEntry()
	bad.QueryID = ""
	assert.Error(t, logger.LogQuery(context.Background(), bad))
}

func TestNewLoggerTextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.True(t, strings.Contains(buf.String(), "msg=shown"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNoopLogger(t *testing.T) {
	assert.NoError(t, NewNoopLogger().LogQuery(context.Background(), QueryLogEntry{}))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveQuery("embedded", "query", OutcomeSuccess, 5*time.Millisecond)
	m.ObserveQuery("embedded", "query", OutcomeSuccess, 7*time.Millisecond)
	m.ObserveDiagnostic("embedded", KindError, "PARSER_ERROR")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queries.WithLabelValues("embedded", "query", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.diagnostics.WithLabelValues("embedded", KindError, "PARSER_ERROR")))

	count, err := testutil.GatherAndCount(reg, "meshgate_query_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveQuery("a", "b", "c", 0) })
}
