package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  `Display CLI and gateway version information.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runVersion(cmd.Context())
		},
	}
}

func (c *CLI) runVersion(parent context.Context) error {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	// The gateway reports its version through /readyz.
	var serverVersion string
	var serverStatus string
	if c.cfg != nil && c.cfg.Endpoint != "" {
		ctx, cancel := context.WithTimeout(orBackground(parent), clientTimeout)
		defer cancel()
		if ready, err := c.newGatewayClient().Ready(ctx); err == nil {
			serverVersion = ready.Version
			serverStatus = "ready"
			if !ready.Ready {
				serverStatus = "not ready"
			}
		} else {
			serverStatus = "unavailable"
		}
	} else {
		serverStatus = "not configured"
	}

	if c.structured() {
		output := struct {
			VersionInfo `yaml:",inline"`
			Server      struct {
				Version string `json:"version,omitempty" yaml:"version,omitempty"`
				Status  string `json:"status" yaml:"status"`
			} `json:"server" yaml:"server"`
		}{
			VersionInfo: info,
		}
		output.Server.Version = serverVersion
		output.Server.Status = serverStatus
		return c.render(output)
	}

	c.println("meshgate")
	c.printf("  Version:    %s\n", info.Version)
	c.printf("  Git Commit: %s\n", info.GitCommit)
	c.printf("  Build Date: %s\n", info.BuildDate)
	c.printf("  Go Version: %s\n", info.GoVersion)
	c.printf("  OS/Arch:    %s/%s\n", info.OS, info.Arch)

	c.println("")
	c.println("Gateway:")
	if serverVersion != "" {
		c.printf("  Version: %s\n", serverVersion)
	}
	c.printf("  Status:  %s\n", serverStatus)

	return nil
}

// VersionInfo represents version information for structured output.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	OS        string `json:"os" yaml:"os"`
	Arch      string `json:"arch" yaml:"arch"`
}

// SetVersionInfo sets the version information (called from main).
func SetVersionInfo(version, commit, date string) {
	if version != "" {
		Version = version
	}
	if commit != "" {
		GitCommit = commit
	}
	if date != "" {
		BuildDate = date
	}
}

// GetVersionString returns a formatted version string.
func GetVersionString() string {
	return fmt.Sprintf("meshgate version %s (commit: %s, built: %s)",
		Version, GitCommit, BuildDate)
}
