package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/gateway"
	"github.com/canonica-labs/meshgate/internal/statement"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// Tool names.
const (
	ToolLoadInstructions = "load_instructions"
	ToolRunSQL           = "run_sql"
	ToolRunQuery         = "run_query"
)

// CodeReadOnlyViolation is reported when run_sql rejects a statement.
const CodeReadOnlyViolation = "READ_ONLY_VIOLATION"

// Instructions is returned by load_instructions and the initialize handshake.
const Instructions = `You are a data analyst querying data through meshgate.

Two tools run queries:
- run_query sends a statement through the gateway. Pick a backend with the
  "backend" argument (embedded, distributed-sql, warehouse, columnar-engine,
  online-store; default embedded). Set "operation" to "translate" to see the
  compiled plan without touching data.
- run_sql sends a raw statement straight to the embedded engine.

Both return {"result": [...]} with one object per row, or {"errors": [...]}
when the query failed. "warnings" may accompany a result.

Start with: SELECT 1 AS n`

func (s *Server) handleListTools() *ListToolsResult {
	backends := make([]string, 0, 5)
	for _, b := range adapters.AllBackends() {
		backends = append(backends, string(b))
	}

	return &ListToolsResult{
		Tools: []Tool{
			{
				Name:        ToolLoadInstructions,
				Description: "Load the instructions for querying data with run_query and run_sql. Call this first.",
				InputSchema: InputSchema{
					Type:       "object",
					Properties: map[string]Property{},
					Required:   []string{},
				},
			},
			{
				Name:        ToolRunSQL,
				Description: "Run a raw SQL statement on the embedded engine and return {result} or {errors}.",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"query": {Type: "string", Description: "The SQL statement to execute"},
					},
					Required: []string{"query"},
				},
			},
			{
				Name:        ToolRunQuery,
				Description: "Run a query through the gateway on the selected backend and return {result} or {errors}, with warnings when present.",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"query":      {Type: "string", Description: "The statement to execute"},
						"backend":    {Type: "string", Description: "Backend to run on (default embedded)", Enum: backends},
						"operation":  {Type: "string", Description: "query or translate (default query)", Enum: []string{"query", "translate"}},
						"debug_mode": {Type: "boolean", Description: "Attach execution metadata and stack traces"},
					},
					Required: []string{"query"},
				},
			},
		},
	}
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (result *CallToolResult, rpcErr *Error) {
	var callParams CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid parameters",
			Data:    err.Error(),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("mcp: tool panicked", "tool", callParams.Name, "panic", r)
			result, rpcErr = nil, &Error{Code: InternalError, Message: fmt.Sprintf("tool %s failed: %v", callParams.Name, r)}
		}
	}()

	switch callParams.Name {
	case ToolLoadInstructions:
		return textResult(Instructions, false), nil
	case ToolRunSQL:
		return s.runSQL(ctx, callParams.Arguments)
	case ToolRunQuery:
		return s.runQuery(ctx, callParams.Arguments)
	default:
		return nil, &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Unknown tool: %s", callParams.Name),
		}
	}
}

func (s *Server) runSQL(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	query, rpcErr := stringArg(args, "query", true)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if s.config.ReadOnlySQL && !statement.IsReadOnly(query) {
		env := models.Envelope{Errors: []models.Diagnostic{{
			Code:    CodeReadOnlyViolation,
			Message: "only read-only statements are allowed",
			Context: map[string]any{"statement_type": statement.Classify(query).Type},
		}}}
		return envelopeResult(env)
	}

	s.logger.Info("mcp: run_sql", "backend", string(s.embedded.Backend()))
	res := s.embedded.Execute(ctx, query, adapters.ExecOptions{Mode: adapters.ModeQuery})
	return envelopeResult(gateway.Normalize(res))
}

func (s *Server) runQuery(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	query, rpcErr := stringArg(args, "query", true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	backend, rpcErr := stringArg(args, "backend", false)
	if rpcErr != nil {
		return nil, rpcErr
	}
	operation, rpcErr := stringArg(args, "operation", false)
	if rpcErr != nil {
		return nil, rpcErr
	}
	debug, _ := args["debug_mode"].(bool)

	res := s.gateway.Dispatch(ctx, gateway.Request{
		Text:      query,
		Backend:   backend,
		Operation: operation,
		Debug:     debug,
	})
	return envelopeResult(gateway.Normalize(res))
}

func stringArg(args map[string]any, name string, required bool) (string, *Error) {
	raw, present := args[name]
	if !present || raw == nil {
		if required {
			return "", &Error{Code: InvalidParams, Message: fmt.Sprintf("Missing '%s' parameter", name)}
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &Error{Code: InvalidParams, Message: fmt.Sprintf("Parameter '%s' must be a string", name)}
	}
	if required && strings.TrimSpace(s) == "" {
		return "", &Error{Code: InvalidParams, Message: fmt.Sprintf("Parameter '%s' must not be empty", name)}
	}
	return s, nil
}

func envelopeResult(env models.Envelope) (*CallToolResult, *Error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, &Error{Code: InternalError, Message: "failed to serialize result", Data: err.Error()}
	}
	return textResult(string(data), env.Failed()), nil
}

func textResult(text string, isError bool) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: isError,
	}
}
