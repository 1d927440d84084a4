// Package mcp exposes the gateway as Model Context Protocol tools over
// JSON-RPC 2.0, on stdio or HTTP.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/auth"
	"github.com/canonica-labs/meshgate/internal/gateway"
	"github.com/canonica-labs/meshgate/pkg/api"
)

// maxMessageSize bounds one JSON-RPC message.
const maxMessageSize = 4 << 20

// Config configures the MCP server.
type Config struct {
	// ReadOnlySQL rejects run_sql statements that could modify data.
	ReadOnlySQL bool
}

// Server handles MCP requests. One Server may serve stdio and HTTP at once.
type Server struct {
	gateway  *gateway.Gateway
	embedded adapters.Adapter
	config   Config
	logger   *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewServer creates an MCP server. run_query goes through gw; run_sql goes
// straight to embedded.
func NewServer(gw *gateway.Gateway, embedded adapters.Adapter, config Config, logger *slog.Logger) *Server {
	return &Server{
		gateway:  gw,
		embedded: embedded,
		config:   config,
		logger:   logger,
	}
}

// ServeStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w until r is exhausted or ctx is done.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	enc := json.NewEncoder(w)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("mcp: failed to read input: %w", err)
		}

		if msg := strings.TrimSpace(line); msg != "" {
			if resp := s.HandleMessage(ctx, []byte(msg)); resp != nil {
				if encErr := enc.Encode(resp); encErr != nil {
					return fmt.Errorf("mcp: failed to write response: %w", encErr)
				}
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}

// ServeHTTP accepts one JSON-RPC message per POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	ctx := r.Context()
	if cred, ok := auth.ParseAuthorization(r.Header.Get(api.HeaderAuthorization)); ok {
		ctx = auth.ContextWithCredential(ctx, cred)
	}

	resp := s.HandleMessage(ctx, data)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set(api.HeaderContentType, api.ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("mcp: failed to write response", "error", err)
	}
}

// HandleMessage decodes and answers one JSON-RPC message. It returns nil
// for notifications.
func (s *Server) HandleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			Error: &Error{
				Code:    ParseError,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}

	if req.JSONRPC != "2.0" {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    InvalidRequest,
				Message: "Invalid JSON-RPC version",
			},
		}
	}

	return s.handleRequest(ctx, &req)
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	var result any
	var rpcErr *Error

	switch req.Method {
	case "initialize":
		result, rpcErr = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized", "notifications/cancelled":
		return nil
	case "tools/list":
		result = s.handleListTools()
	case "tools/call":
		result, rpcErr = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		rpcErr = &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}

	// Notifications get no response.
	if req.ID == nil {
		return nil
	}
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, *Error) {
	var initParams InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &Error{
				Code:    InvalidParams,
				Message: "Invalid initialize parameters",
				Data:    err.Error(),
			}
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.Info("mcp client initialized", "client", initParams.ClientInfo.Name,
		"client_version", initParams.ClientInfo.Version)

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    api.ServerName,
			Version: api.Version,
		},
		Instructions: Instructions,
	}, nil
}

// Initialized reports whether a client completed the initialize handshake.
func (s *Server) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}
