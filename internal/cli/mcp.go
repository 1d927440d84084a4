package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/canonica-labs/meshgate/internal/errors"
	"github.com/canonica-labs/meshgate/internal/gateway"
	"github.com/canonica-labs/meshgate/pkg/api"
)

func (c *CLI) newMCPCmd() *cobra.Command {
	var transport, addr string
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool server",
		Long: `Run meshgate as a Model Context Protocol server.

Tools:
  load_instructions  usage notes for the other tools
  run_sql            run SQL on the embedded engine
  run_query          dispatch a query to any backend

With --transport stdio (default) messages are newline-delimited JSON-RPC on
stdin and stdout; logs go to stderr. With --transport http the server
accepts POST /mcp.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if transport != "" {
				c.cfg.MCP.Transport = transport
			}
			if addr != "" {
				c.cfg.MCP.Addr = addr
			}
			if cmd.Flags().Changed("read-only") {
				c.cfg.MCP.ReadOnlySQL = readOnly
			}
			return c.runMCP(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "stdio or http (overrides mcp.transport)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for the http transport (overrides mcp.addr)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "reject run_sql statements that modify data")
	return cmd
}

func (c *CLI) runMCP(parent context.Context) error {
	switch c.cfg.MCP.Transport {
	case "stdio", "http":
	default:
		return errors.NewInvalidConfig("mcp.transport", fmt.Sprintf("unknown transport %q", c.cfg.MCP.Transport))
	}

	ctx, stop := signalContext(parent)
	defer stop()

	svc, err := c.newServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	srv := svc.mcpServer(c.cfg.MCP.ReadOnlySQL)

	if c.cfg.MCP.Transport == "stdio" {
		svc.logger.Info("mcp server ready", "transport", "stdio")
		err := srv.ServeStdio(ctx, c.in, c.out)
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	engine := gin.New()
	engine.Use(gateway.RecoveryMiddleware(svc.logger))
	engine.Use(gateway.LoggingMiddleware(svc.logger))
	engine.Any(api.EndpointMCP, gin.WrapH(srv))

	httpSrv := &http.Server{
		Addr:    c.cfg.MCP.Addr,
		Handler: engine,
	}
	listen := func() error {
		svc.logger.Info("mcp server listening", "transport", "http", "addr", c.cfg.MCP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}
	return serveUntilDone(ctx, svc.logger, listen, httpSrv.Shutdown)
}
