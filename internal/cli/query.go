package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/errors"
	"github.com/canonica-labs/meshgate/pkg/models"
)

func (c *CLI) newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query execution commands",
		Long:  `Execute or translate a query through a running meshgate gateway.`,
	}

	cmd.AddCommand(c.newQueryModeCmd(adapters.ModeQuery, "exec <query>", "Execute a query",
		`Execute a query on one backend and print the rows.

Example:
  meshgate query exec "SELECT 1 AS n"
  meshgate query exec --backend distributed-sql "SELECT count(*) FROM tpch.tiny.orders"`))
	cmd.AddCommand(c.newQueryModeCmd(adapters.ModeTranslate, "translate <query>", "Compile a query without running it",
		`Compile a query on one backend and print its plan. No data is read.

Example:
  meshgate query translate --backend warehouse "SELECT * FROM sales.orders"`))

	return cmd
}

func (c *CLI) newQueryModeCmd(mode adapters.Mode, use, short, long string) *cobra.Command {
	var backend string
	var debugMode bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQuery(cmd.Context(), models.QueryRequest{
				Query:     args[0],
				Backend:   backend,
				Operation: string(mode),
				DebugMode: debugMode || c.debug,
			})
		},
	}

	cmd.Flags().StringVarP(&backend, "backend", "b", string(adapters.Embedded), "backend to route the query to")
	cmd.Flags().BoolVar(&debugMode, "debug-mode", false, "request backend metadata and stack traces (implied by --debug)")
	return cmd
}

func (c *CLI) runQuery(ctx context.Context, req models.QueryRequest) error {
	ctx = orBackground(ctx)
	if strings.TrimSpace(req.Query) == "" {
		return errors.NewInvalidRequest("query", "must not be empty")
	}

	client := c.newGatewayClient()
	c.debugf("POST %s/run_query backend=%s operation=%s\n", client.Endpoint(), req.Backend, req.Operation)

	env, err := client.RunQuery(ctx, req)
	if err != nil {
		return err
	}

	if c.structured() {
		if err := c.render(env); err != nil {
			return err
		}
	} else {
		c.printEnvelope(env)
	}

	if env.Failed() {
		return queryFailed(env)
	}
	return nil
}

// queryFailed summarizes a failed envelope as an engine error.
func queryFailed(env models.Envelope) error {
	first := env.Errors[0]
	return &errors.CanonicError{
		Code:    errors.CodeEngine,
		Message: fmt.Sprintf("query failed with %d error(s)", len(env.Errors)),
		Reason:  first.String(),
	}
}

func (c *CLI) printEnvelope(env models.Envelope) {
	for _, d := range env.Errors {
		c.errorf("✗ %s\n", formatDiagnostic(d))
	}
	if env.Failed() {
		return
	}

	c.printRows(env.Result)
	for _, w := range env.Warnings {
		c.errorf("! %s\n", formatDiagnostic(w))
	}
	if len(env.Metadata) > 0 {
		c.println("")
		c.println("Metadata:")
		for k, v := range env.Metadata {
			c.printf("  %s: %s\n", k, formatValue(v))
		}
	}
}

func (c *CLI) printRows(rows []models.Row) {
	if len(rows) == 0 {
		c.println("(0 rows)")
		return
	}

	columns := rows[0].Columns()
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			v, _ := row.Get(col)
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()

	if len(rows) == 1 {
		c.println("(1 row)")
	} else {
		c.printf("(%d rows)\n", len(rows))
	}
}

func formatDiagnostic(d models.Diagnostic) string {
	s := d.String()
	if d.Location != nil && !d.Location.IsZero() {
		if d.Location.Line > 0 {
			s = fmt.Sprintf("%s (line %d, column %d)", s, d.Location.Line, d.Location.Column)
		} else {
			s = fmt.Sprintf("%s (offset %d)", s, d.Location.Offset)
		}
	}
	return s
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case map[string]any, []any, models.Row:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
