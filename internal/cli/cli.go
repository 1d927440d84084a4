// Package cli provides the meshgate command-line interface.
// The same binary runs the gateway, the MCP server and a thin HTTP client
// for a running gateway.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/meshgate/internal/config"
	"github.com/canonica-labs/meshgate/internal/errors"
)

// Exit codes mirror errors.ErrorCode.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitAuth       = 2
	ExitEngine     = 3
	ExitInternal   = 4
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output formats accepted by --output.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// Global flags
	configPath string
	endpoint   string
	token      string
	output     string
	quiet      bool
	debug      bool
}

// New creates a new CLI instance bound to the process's standard streams.
func New() *CLI {
	return newCLI(os.Stdin, os.Stdout, os.Stderr)
}

func newCLI(in io.Reader, out, errOut io.Writer) *CLI {
	cli := &CLI{in: in, out: out, errOut: errOut}
	cli.rootCmd = cli.newRootCmd()
	return cli
}

// Execute runs the CLI and returns the process exit code.
func (c *CLI) Execute() int {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the CLI with explicit arguments.
func (c *CLI) ExecuteArgs(args []string) int {
	c.rootCmd.SetArgs(args)
	if err := c.rootCmd.Execute(); err != nil {
		c.errorf("Error: %v\n", err)
		return errors.ExitCode(err)
	}
	return ExitSuccess
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meshgate",
		Short: "meshgate - one query gateway over many backends",
		Long: `meshgate accepts a query, routes it to a named backend and returns a
uniform envelope of rows or structured diagnostics.

Backends:
  • embedded         in-process DuckDB or SQLite
  • distributed-sql  Trino
  • warehouse        BigQuery or Snowflake
  • columnar-engine  DuckDB read through Apache Arrow
  • online-store     feature serving API or PostgreSQL

The gateway is served over HTTP (meshgate serve) and as an MCP tool server
(meshgate mcp).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}
	cmd.Version = Version
	cmd.SetVersionTemplate(GetVersionString() + "\n")
	cmd.SetIn(c.in)
	cmd.SetOut(c.out)
	cmd.SetErr(c.errOut)

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ./meshgate.yaml or ~/.meshgate/meshgate.yaml)")
	cmd.PersistentFlags().StringVar(&c.endpoint, "endpoint", "", "gateway endpoint for client commands")
	cmd.PersistentFlags().StringVar(&c.token, "token", "", "auth token (overrides config)")
	cmd.PersistentFlags().StringVarP(&c.output, "output", "o", OutputText, "output format: text, json or yaml")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newServeCmd())
	cmd.AddCommand(c.newMCPCmd())
	cmd.AddCommand(c.newQueryCmd())
	cmd.AddCommand(c.newBackendsCmd())
	cmd.AddCommand(c.newStatusCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	switch c.output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		return errors.NewInvalidConfig("output", fmt.Sprintf("unknown format %q", c.output))
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	// Override with flags
	if c.endpoint != "" {
		c.cfg.Endpoint = c.endpoint
	}
	if c.token != "" {
		c.cfg.Auth.Token = c.token
	}
	if c.debug {
		c.cfg.Logging.Level = "debug"
	}

	return nil
}

// structured reports whether output goes through an encoder.
func (c *CLI) structured() bool {
	return c.output == OutputJSON || c.output == OutputYAML
}

// render writes v as JSON or YAML according to --output.
func (c *CLI) render(v interface{}) error {
	if c.output == OutputYAML {
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Helper functions for output

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Fprintln(c.out, args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(c.errOut, format, args...)
}

func (c *CLI) debugf(format string, args ...interface{}) {
	if c.debug {
		fmt.Fprintf(c.errOut, "[DEBUG] "+format, args...)
	}
}

// newGatewayClient creates a new gateway client with current config.
func (c *CLI) newGatewayClient() *GatewayClient {
	return NewGatewayClient(c.cfg.Endpoint, c.cfg.Auth.Token)
}
