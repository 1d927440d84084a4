// Package status provides backend readiness reporting for GET /readyz and
// the `meshgate status` command.
package status

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/canonica-labs/meshgate/pkg/models"
)

// DefaultTimeout bounds a readiness check across all backends.
const DefaultTimeout = 5 * time.Second

// HealthChecker reports per-backend health. A nil error means healthy.
// *adapters.Registry implements it.
type HealthChecker interface {
	CheckAllHealth(ctx context.Context) map[string]error
}

// Check runs every backend health check and builds the readiness report.
func Check(ctx context.Context, checker HealthChecker, version string) models.ReadinessResponse {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	results := checker.CheckAllHealth(ctx)
	resp := models.ReadinessResponse{
		Ready:    true,
		Version:  version,
		Backends: make(map[string]models.ComponentHealth, len(results)),
	}
	for name, err := range results {
		if err != nil {
			resp.Ready = false
			resp.Backends[name] = models.ComponentHealth{Ready: false, Message: err.Error()}
			continue
		}
		resp.Backends[name] = models.ComponentHealth{Ready: true, Message: "ok"}
	}
	return resp
}

// Reason summarizes why a report is not ready. It is empty when ready.
func Reason(resp models.ReadinessResponse) string {
	if resp.Ready {
		return ""
	}
	var failing []string
	for _, name := range sortedNames(resp) {
		if !resp.Backends[name].Ready {
			failing = append(failing, name)
		}
	}
	return "backends not ready: " + strings.Join(failing, ", ")
}

// Format renders a readiness report for terminal output.
func Format(resp models.ReadinessResponse) string {
	var sb strings.Builder
	state := "ready"
	if !resp.Ready {
		state = "not ready"
	}
	fmt.Fprintf(&sb, "Gateway: %s (version %s)\n", state, resp.Version)
	if reason := Reason(resp); reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", reason)
	}

	sb.WriteString("Backends:\n")
	for _, name := range sortedNames(resp) {
		c := resp.Backends[name]
		mark := "✓"
		if !c.Ready {
			mark = "✗"
		}
		fmt.Fprintf(&sb, "  %s %-16s %s\n", mark, name, c.Message)
	}
	return sb.String()
}

func sortedNames(resp models.ReadinessResponse) []string {
	names := make([]string, 0, len(resp.Backends))
	for name := range resp.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
