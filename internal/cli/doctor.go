package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/meshgate/internal/bootstrap"
	"github.com/canonica-labs/meshgate/internal/errors"
	"github.com/canonica-labs/meshgate/internal/observability"
	"github.com/canonica-labs/meshgate/internal/status"
)

// DiagnosticCheck is one doctor check.
type DiagnosticCheck struct {
	Name    string `json:"name" yaml:"name"`
	Passed  bool   `json:"passed" yaml:"passed"`
	Message string `json:"message" yaml:"message"`
}

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run local diagnostics",
		Long: `Run diagnostics from this machine without going through a gateway.

Checks:
  - configuration is valid
  - every configured backend answers a health check
  - the gateway endpoint responds`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(cmd.Context())
		},
	}
}

func (c *CLI) runDoctor(parent context.Context) error {
	ctx := orBackground(parent)
	checks := []DiagnosticCheck{
		{Name: "config", Passed: true, Message: "configuration loaded"},
	}
	checks = append(checks, c.checkBackends(ctx)...)
	checks = append(checks, c.checkGateway(ctx))

	failed := 0
	for _, check := range checks {
		if !check.Passed {
			failed++
		}
	}

	if c.structured() {
		if err := c.render(map[string]interface{}{
			"checks":     checks,
			"all_passed": failed == 0,
		}); err != nil {
			return err
		}
	} else {
		c.println("meshgate diagnostics")
		c.println("====================")
		for _, check := range checks {
			c.printCheck(check)
		}
		c.println("")
		if failed == 0 {
			c.println("✓ All checks passed")
		}
	}

	if failed > 0 {
		return &errors.CanonicError{
			Code:       errors.CodeEngine,
			Message:    fmt.Sprintf("%d check(s) failed", failed),
			Suggestion: "review the failed checks above",
		}
	}
	return nil
}

func (c *CLI) checkBackends(ctx context.Context) []DiagnosticCheck {
	reg, err := bootstrap.BuildRegistry(ctx, c.cfg, observability.NewLogger(io.Discard, "error", "text"))
	if err != nil {
		return []DiagnosticCheck{{Name: "backends", Passed: false, Message: err.Error()}}
	}
	defer reg.CloseAll()

	report := status.Check(ctx, reg, Version)
	var checks []DiagnosticCheck
	for _, name := range reg.Available() {
		health := report.Backends[name]
		checks = append(checks, DiagnosticCheck{
			Name:    "backend " + name,
			Passed:  health.Ready,
			Message: health.Message,
		})
	}
	return checks
}

func (c *CLI) checkGateway(parent context.Context) DiagnosticCheck {
	ctx, cancel := context.WithTimeout(parent, clientTimeout)
	defer cancel()

	client := c.newGatewayClient()
	health, err := client.Health(ctx)
	if err != nil {
		return DiagnosticCheck{Name: "gateway", Passed: false, Message: fmt.Sprintf("%s unreachable", client.Endpoint())}
	}
	return DiagnosticCheck{
		Name:    "gateway",
		Passed:  true,
		Message: fmt.Sprintf("%s %s at %s", health.Server, health.Status, client.Endpoint()),
	}
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	mark := "✓"
	if !check.Passed {
		mark = "✗"
	}
	c.printf("%s %-24s %s\n", mark, check.Name, check.Message)
}
