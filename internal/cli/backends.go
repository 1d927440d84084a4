package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/meshgate/internal/errors"
	"github.com/canonica-labs/meshgate/internal/status"
	"github.com/canonica-labs/meshgate/pkg/models"
)

const clientTimeout = 10 * time.Second

func (c *CLI) newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List backends registered on the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBackends(cmd.Context())
		},
	}
}

func (c *CLI) runBackends(parent context.Context) error {
	ctx, cancel := context.WithTimeout(orBackground(parent), clientTimeout)
	defer cancel()

	backends, err := c.newGatewayClient().Backends(ctx)
	if err != nil {
		return err
	}

	if c.structured() {
		return c.render(models.BackendsResponse{Backends: backends})
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tDRIVER")
	for _, b := range backends {
		fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Driver)
	}
	return w.Flush()
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway and backend readiness",
		Long: `Show the readiness of a running gateway and of each backend it serves.
Exits non-zero when any backend is not ready.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(cmd.Context())
		},
	}
}

func (c *CLI) runStatus(parent context.Context) error {
	ctx, cancel := context.WithTimeout(orBackground(parent), clientTimeout)
	defer cancel()

	client := c.newGatewayClient()
	resp, err := client.Ready(ctx)
	if err != nil {
		c.errorf("✗ Gateway: unreachable (%s)\n", client.Endpoint())
		return err
	}

	if c.structured() {
		if err := c.render(resp); err != nil {
			return err
		}
	} else {
		c.printf("%s", status.Format(resp))
	}

	if !resp.Ready {
		return errors.NewBackendUnavailable(client.Endpoint(), fmt.Errorf("%s", status.Reason(resp)))
	}
	return nil
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
