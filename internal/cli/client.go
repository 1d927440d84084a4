package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/canonica-labs/meshgate/internal/errors"
	"github.com/canonica-labs/meshgate/pkg/api"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// GatewayClient is the HTTP client for a running meshgate gateway.
type GatewayClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewGatewayClient creates a new gateway client.
func NewGatewayClient(endpoint, token string) *GatewayClient {
	return &GatewayClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Endpoint returns the configured gateway endpoint.
func (c *GatewayClient) Endpoint() string {
	return c.endpoint
}

// RunQuery posts one request to /run_query. A failed query is not an error:
// its diagnostics are in the returned envelope.
func (c *GatewayClient) RunQuery(ctx context.Context, req models.QueryRequest) (models.Envelope, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, api.EndpointRunQuery, bytes.NewReader(body))
	if err != nil {
		return models.Envelope{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Envelope{}, c.parseErrorResponse(resp)
	}

	var env models.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return models.Envelope{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return env, nil
}

// Backends lists the backends registered on the gateway.
func (c *GatewayClient) Backends(ctx context.Context) ([]models.BackendInfo, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, api.EndpointBackends, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var result models.BackendsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Backends, nil
}

// Ready fetches per-backend readiness. A 503 still carries a body.
func (c *GatewayClient) Ready(ctx context.Context) (models.ReadinessResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, api.EndpointReady, nil)
	if err != nil {
		return models.ReadinessResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return models.ReadinessResponse{}, c.parseErrorResponse(resp)
	}

	var result models.ReadinessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.ReadinessResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

// Health checks GET /health.
func (c *GatewayClient) Health(ctx context.Context) (models.HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, api.EndpointHealth, nil)
	if err != nil {
		return models.HealthResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.HealthResponse{}, c.parseErrorResponse(resp)
	}

	var result models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.HealthResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

// doRequest performs an HTTP request to the gateway.
func (c *GatewayClient) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c.endpoint == "" {
		return nil, errors.NewGatewayUnavailable("", fmt.Errorf("no gateway endpoint configured"))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(api.HeaderContentType, api.ContentTypeJSON)
	if c.token != "" {
		req.Header.Set(api.HeaderAuthorization, "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewGatewayUnavailable(c.endpoint, err)
	}
	return resp, nil
}

// parseErrorResponse turns a non-2xx reply into an error. The gateway
// reports transport failures as {"detail": "..."}.
func (c *GatewayClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Detail == "" {
		return fmt.Errorf("gateway error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if resp.StatusCode == http.StatusBadRequest {
		return errors.NewInvalidRequest("query", errResp.Detail)
	}
	return fmt.Errorf("gateway error: %d - %s", resp.StatusCode, errResp.Detail)
}
