package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/bootstrap"
	"github.com/canonica-labs/meshgate/internal/gateway"
	"github.com/canonica-labs/meshgate/internal/mcp"
	"github.com/canonica-labs/meshgate/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// services is everything a serving command needs.
type services struct {
	logger   *slog.Logger
	registry *adapters.Registry
	embedded adapters.Adapter
	gateway  *gateway.Gateway
	prom     *prometheus.Registry
}

// newServices builds the backend registry and the gateway over it.
// The caller must call close.
func (c *CLI) newServices(ctx context.Context) (*services, error) {
	logger := observability.NewLogger(c.errOut, c.cfg.Logging.Level, c.cfg.Logging.Format)

	reg, err := bootstrap.BuildRegistry(ctx, c.cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := bootstrap.CheckConnectivity(ctx, reg, adapters.DefaultRetryConfig(), logger); err != nil {
		reg.CloseAll()
		return nil, err
	}

	embedded, err := reg.Resolve(string(adapters.Embedded))
	if err != nil {
		reg.CloseAll()
		return nil, err
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gw := gateway.New(reg,
		gateway.WithLogger(logger),
		gateway.WithQueryLogger(observability.NewSlogQueryLogger(logger)),
		gateway.WithMetrics(observability.NewMetrics(prom)),
	)

	return &services{
		logger:   logger,
		registry: reg,
		embedded: embedded,
		gateway:  gw,
		prom:     prom,
	}, nil
}

func (r *services) close() {
	if err := r.registry.CloseAll(); err != nil {
		r.logger.Warn("failed to close backends", "error", err)
	}
}

func (r *services) mcpServer(readOnly bool) *mcp.Server {
	return mcp.NewServer(r.gateway, r.embedded, mcp.Config{ReadOnlySQL: readOnly}, r.logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(orBackground(parent), os.Interrupt, syscall.SIGTERM)
}

func (c *CLI) newServeCmd() *cobra.Command {
	var addr string
	var noMCP bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long: `Run the HTTP gateway.

Endpoints:
  POST /run_query   dispatch a query to a backend
  GET  /health      liveness
  GET  /readyz      per-backend readiness
  GET  /backends    registered backends
  GET  /metrics     Prometheus metrics
  POST /mcp         MCP over HTTP (unless --no-mcp)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			if noMCP {
				c.cfg.Server.MountMCP = false
			}
			return c.runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noMCP, "no-mcp", false, "do not mount the MCP endpoint")
	return cmd
}

func (c *CLI) runServe(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	svc, err := c.newServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	serverCfg := gateway.ServerConfig{
		Addr:         c.cfg.Server.Addr,
		ReadTimeout:  c.cfg.Server.ReadTimeout,
		WriteTimeout: c.cfg.Server.WriteTimeout,
		CORSOrigin:   c.cfg.Server.CORSOrigin,
		Metrics:      promhttp.HandlerFor(svc.prom, promhttp.HandlerOpts{}),
	}
	if c.cfg.Server.MountMCP {
		serverCfg.MCP = svc.mcpServer(c.cfg.MCP.ReadOnlySQL)
	}

	server := gateway.NewServer(svc.gateway, svc.registry, serverCfg, svc.logger)
	return serveUntilDone(ctx, svc.logger, server.ListenAndServe, server.Shutdown)
}

// serveUntilDone runs serve until it fails or ctx is cancelled, then shuts
// down gracefully.
func serveUntilDone(ctx context.Context, logger *slog.Logger, serve func() error, shutdown func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
