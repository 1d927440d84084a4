package status

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type checkerFunc func(ctx context.Context) map[string]error

func (f checkerFunc) CheckAllHealth(ctx context.Context) map[string]error {
	return f(ctx)
}

func TestCheckAllReady(t *testing.T) {
	checker := checkerFunc(func(ctx context.Context) map[string]error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return map[string]error{"embedded": nil, "columnar-engine": nil}
	})

	resp := Check(context.Background(), checker, "0.1.0")
	assert.True(t, resp.Ready)
	assert.Equal(t, "0.1.0", resp.Version)
	assert.Len(t, resp.Backends, 2)
	assert.Empty(t, Reason(resp))
	assert.Contains(t, Format(resp), "Gateway: ready")
}

func TestCheckNotReady(t *testing.T) {
	checker := checkerFunc(func(context.Context) map[string]error {
		return map[string]error{
			"embedded":        nil,
			"distributed-sql": errors.New("connection refused"),
		}
	})

	resp := Check(context.Background(), checker, "0.1.0")
	assert.False(t, resp.Ready)
	assert.False(t, resp.Backends["distributed-sql"].Ready)
	assert.Equal(t, "connection refused", resp.Backends["distributed-sql"].Message)
	assert.Equal(t, "backends not ready: distributed-sql", Reason(resp))

	out := Format(resp)
	assert.Contains(t, out, "not ready")
	assert.Contains(t, out, "✗ distributed-sql")
}
