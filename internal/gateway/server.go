package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/canonica-labs/meshgate/internal/status"
	"github.com/canonica-labs/meshgate/pkg/api"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// Backends is the read-only view of the registry used by the HTTP surface.
// *adapters.Registry implements it.
type Backends interface {
	status.HealthChecker
	Describe() []models.BackendInfo
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigin   string

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	// MCP serves POST /mcp when set.
	MCP http.Handler
}

// Server is the HTTP transport over a Gateway.
type Server struct {
	gateway  *Gateway
	backends Backends
	logger   *slog.Logger
	config   ServerConfig
	engine   *gin.Engine
	http     *http.Server
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(gw *Gateway, backends Backends, config ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		gateway:  gw,
		backends: backends,
		logger:   logger,
		config:   config,
	}

	engine := gin.New()
	engine.Use(RecoveryMiddleware(logger))
	engine.Use(CORSMiddleware(config.CORSOrigin))
	engine.Use(QueryIDMiddleware())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(CredentialMiddleware())

	engine.GET(api.EndpointHealth, s.handleHealth)
	engine.GET(api.EndpointReady, s.handleReady)
	engine.GET(api.EndpointBackends, s.handleBackends)
	engine.POST(api.EndpointRunQuery, s.handleRunQuery)
	if config.Metrics != nil {
		engine.GET(api.EndpointMetrics, gin.WrapH(config.Metrics))
	}
	if config.MCP != nil {
		engine.Any(api.EndpointMCP, gin.WrapH(config.MCP))
	}

	s.engine = engine
	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("gateway listening", "addr", s.config.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{Status: "healthy", Server: api.ServerName})
}

func (s *Server) handleReady(c *gin.Context) {
	resp := status.Check(c.Request.Context(), s.backends, api.Version)
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) handleBackends(c *gin.Context) {
	c.JSON(http.StatusOK, models.BackendsResponse{Backends: s.backends.Describe()})
}

// handleRunQuery dispatches one statement and always answers 200 with the
// normalized result, backend failures included. A body that is not valid
// JSON, or has an empty query field, gets 400 with an ErrorResponse rather
// than a 200 envelope.
func (s *Server) handleRunQuery(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "field 'query' is required"})
		return
	}

	result := s.gateway.Dispatch(c.Request.Context(), Request{
		QueryID:   c.GetString(queryIDKey),
		Text:      req.Query,
		Backend:   req.Backend,
		Operation: req.Operation,
		Debug:     req.DebugMode,
	})

	body, err := json.Marshal(Normalize(result))
	if err != nil {
		s.logger.Error("response serialization failed", "query_id", c.GetString(queryIDKey), "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Detail: "failed to serialize response: " + err.Error()})
		return
	}
	c.Data(http.StatusOK, api.ContentTypeJSON, body)
}
