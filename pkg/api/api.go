// Package api defines the public API endpoints of the meshgate gateway.
package api

// API version
const Version = "0.1.0"

// ServerName is reported by GET /health.
const ServerName = "meshgate"

// API endpoints
const (
	EndpointHealth   = "/health"
	EndpointReady    = "/readyz"
	EndpointRunQuery = "/run_query"
	EndpointBackends = "/backends"
	EndpointMetrics  = "/metrics"
	EndpointMCP      = "/mcp"
)

// HTTP headers
const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
	HeaderQueryID       = "X-Query-ID"
)

// Content types
const (
	ContentTypeJSON = "application/json"
)
