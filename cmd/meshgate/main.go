// Command meshgate runs the query gateway, its MCP server and the client
// commands for a running gateway.
package main

import (
	"os"

	"github.com/canonica-labs/meshgate/internal/cli"
)

// Set by -ldflags at build time.
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	os.Exit(cli.New().Execute())
}
